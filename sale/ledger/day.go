package ledger

// SecondsPerDay is the fixed length of one program day.
const SecondsPerDay = 86_400

// DayIndex converts an absolute unix timestamp to the integer day offset
// from the program start. Timestamps before start map to day zero, which is
// how backfilled pre-start events are dated.
func DayIndex(start, ts int64) uint64 {
	if ts <= start {
		return 0
	}
	return uint64(ts-start) / SecondsPerDay
}

// EffectiveDay returns the day on which an event dated ts begins to count.
// Events take effect the day after they occur, except day-zero events which
// count immediately.
func EffectiveDay(start, ts int64) uint64 {
	day := DayIndex(start, ts)
	if day == 0 {
		return 0
	}
	return day + 1
}

// EndOfDay returns the first timestamp at which the given day is fully
// elapsed and may be finalized.
func EndOfDay(start int64, day uint64) int64 {
	return start + int64(day+1)*SecondsPerDay
}
