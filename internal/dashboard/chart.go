package dashboard

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/kjstillabower/skywatch/internal/models"
)

const defaultChartWidth = 40

// TrendPoints turns newest-first records into chronological chart points
// labelled with local HH:MM.
func TrendPoints(records []models.WeatherRecord) []models.TrendPoint {
	return TrendPointsIn(records, time.Local)
}

// TrendPointsIn is TrendPoints with labels rendered in loc.
func TrendPointsIn(records []models.WeatherRecord, loc *time.Location) []models.TrendPoint {
	points := make([]models.TrendPoint, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		points = append(points, models.TrendPoint{
			Label:       r.FetchedAt.In(loc).Format("15:04"),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		})
	}
	return points
}

// RenderTrend writes one bar per point, scaled between the lowest and highest
// temperature. width <= 0 uses a default.
//
//	09:01 | ##########                12.5°C
func RenderTrend(w io.Writer, points []models.TrendPoint, width int) error {
	if len(points) == 0 {
		_, err := fmt.Fprintln(w, "No weather data yet.")
		return err
	}
	if width <= 0 {
		width = defaultChartWidth
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Temperature)
		hi = math.Max(hi, p.Temperature)
	}
	for _, p := range points {
		n := width
		if hi > lo {
			n = 1 + int(math.Round((p.Temperature-lo)/(hi-lo)*float64(width-1)))
		}
		bar := strings.Repeat("#", n) + strings.Repeat(" ", width-n)
		if _, err := fmt.Fprintf(w, "%-5s | %s %6.1f°C\n", p.Label, bar, p.Temperature); err != nil {
			return err
		}
	}
	return nil
}
