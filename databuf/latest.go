package databuf

// Latest reduces records to the most recent record of each kind.
// Records are in device order, so a later record supersedes an earlier one.
func Latest(records []Record) map[Kind]Record {
	out := make(map[Kind]Record, len(kindNames))
	for _, rec := range records {
		if rec != nil {
			out[rec.Kind()] = rec
		}
	}

	return out
}

// LatestOf returns the most recent record of type T.
func LatestOf[T Record](records []Record) (T, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if v, ok := records[i].(T); ok {
			return v, true
		}
	}

	var zero T

	return zero, false
}

// Merge returns prev updated with the records of next, keeping kinds absent from next.
func Merge(prev map[Kind]Record, next []Record) map[Kind]Record {
	out := make(map[Kind]Record, len(kindNames))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range Latest(next) {
		out[k] = v
	}

	return out
}
