package probe

// Registry owns the active probe records of a session in insertion order.
// It is not safe for concurrent use; the session serializes access.
type Registry struct {
	records []Record
}

// Add appends a record.
func (r *Registry) Add(rec Record) {
	r.records = append(r.records, rec)
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns a copy of the records in insertion order.
func (r *Registry) Records() []Record {
	return append([]Record(nil), r.records...)
}

// TeardownReport summarizes one teardown pass.
type TeardownReport struct {
	// TornDown is the number of records whose teardown succeeded.
	TornDown int
	// Failed is the number of records whose teardown returned an error.
	Failed int
	// Freed is the number of records released.
	Freed int
}

// teardownAll runs every record's teardown in insertion order. onErr is
// called for each failure and the loop continues.
func (r *Registry) teardownAll(onErr func(Record, error)) TeardownReport {
	var report TeardownReport
	for _, rec := range r.records {
		if err := rec.teardown(); err != nil {
			report.Failed++
			onErr(rec, err)
			continue
		}
		report.TornDown++
	}
	return report
}

// releaseAll releases every record and empties the registry.
func (r *Registry) releaseAll() int {
	freed := 0
	for i, rec := range r.records {
		if !rec.released() {
			rec.release()
			freed++
		}
		r.records[i] = nil
	}
	r.records = r.records[:0]
	return freed
}
