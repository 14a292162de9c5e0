package web

import (
	"strconv"

	"labstream/internal/render"
)

// lastValue summarises a view in one cell of the index table.
func lastValue(view render.View) string {
	switch view.Kind {
	case render.KindProgress:
		if view.Progress != nil {
			return view.Progress.Percentage + "%"
		}
	case render.KindTextLog:
		if view.Log != nil && view.Log.Recent != nil {
			return view.Log.Recent.Time + "  " + strconv.FormatFloat(view.Log.Recent.Value, 'g', -1, 64)
		}
	default:
		if n := len(view.Line); n > 0 {
			return strconv.FormatFloat(view.Line[n-1].Value, 'g', -1, 64) + " @ " + view.Line[n-1].Elapsed
		}
	}
	return "-"
}
