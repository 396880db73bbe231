package timespan

import "time"

// Initial plans the first load: from the remote start for one window,
// capped at the remote end.
func Initial(remote Timespan, window Window, unit Unit) Timespan {
	return capped(remote.Start, remote.End, window, unit)
}

// Next plans an incremental load after localEnd. ok is false when the local
// data already reaches the end of the remote data.
func Next(remote Timespan, localEnd time.Time, window Window, unit Unit) (Timespan, bool) {
	if !localEnd.Before(remote.End) {
		return Timespan{}, false
	}
	begin := unit.Add(localEnd, 1)
	if begin.After(remote.End) {
		return Timespan{}, false
	}
	return capped(begin, remote.End, window, unit), true
}

func capped(begin, limit time.Time, window Window, unit Unit) Timespan {
	end := unit.Add(window.AddTo(begin), -1)
	if end.After(limit) {
		end = limit
	}
	if end.Before(begin) {
		end = begin
	}
	return Timespan{Start: begin.UTC(), End: end.UTC()}
}
