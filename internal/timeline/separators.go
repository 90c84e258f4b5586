package timeline

import (
	"time"

	"chatsync/internal/models"
)

// insertDateSeparators walks an ascending sequence and splices in a
// synthetic separator whenever the local calendar date changes between
// consecutive items. A single-day sequence gets no separators. Labels are
// relative to now: "Today", "Yesterday", or "Jan 2, 2006".
func insertDateSeparators(items []models.TimelineItem, now time.Time) []models.TimelineItem {
	if len(items) == 0 {
		return items
	}

	out := make([]models.TimelineItem, 0, len(items)+4)
	lastDay := startOfDay(items[0].Timestamp.Local())

	for i, item := range items {
		day := startOfDay(item.Timestamp.Local())
		if i > 0 && !day.Equal(lastDay) {
			out = append(out, models.DateSeparatorItem(day, separatorLabel(day, now)))
			lastDay = day
		}
		out = append(out, item)
	}
	return out
}

func separatorLabel(day, now time.Time) string {
	today := startOfDay(now.Local())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("Jan 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
