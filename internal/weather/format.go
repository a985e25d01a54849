package weather

import (
	"fmt"
	"strings"
)

var precipNames = map[string]string{
	"rain":         "pluie",
	"snow":         "neige",
	"freezingrain": "pluie verglaçante",
	"ice":          "grêle",
}

// FormatDaily renders the daily bulletin sent to subscribers.
func FormatDaily(location string, f *DailyForecast) string {
	d := f.Day
	var b strings.Builder

	fmt.Fprintf(&b, "Voici la météo prévue pour aujourd'hui à %s\n", location)
	if d.Conditions != "" {
		fmt.Fprintf(&b, "**%s**\n", d.Conditions)
	}
	fmt.Fprintf(&b, "🌡️ %.0f°C (min %.0f°C / max %.0f°C), ressenti %.0f°C\n", d.Temp, d.TempMin, d.TempMax, d.FeelsLike)
	fmt.Fprintf(&b, "☔ %s\n", formatPrecip(d.PrecipProb, d.Precip, d.PrecipType))
	if d.Snow > 0 {
		fmt.Fprintf(&b, "❄️ %.1f cm de neige (%.1f cm au sol)\n", d.Snow, d.SnowDepth)
	}
	fmt.Fprintf(&b, "💨 %.0f km/h (rafales %.0f km/h) %s\n", d.WindSpeed, d.WindGust, windDirection(d.WindDir))
	fmt.Fprintf(&b, "💧 humidité %.0f%%, pression %.0f hPa, UV %.0f\n", d.Humidity, d.Pressure, d.UVIndex)
	if d.Sunrise != "" && d.Sunset != "" {
		fmt.Fprintf(&b, "🌅 lever %s, coucher %s\n", shortTime(d.Sunrise), shortTime(d.Sunset))
	}
	return b.String()
}

// FormatCurrent renders the answer to a current-weather command.
func FormatCurrent(location string, w *CurrentWeather) string {
	c := w.Conditions
	var b strings.Builder

	fmt.Fprintf(&b, "Voici la météo actuelle sur %s:\n", location)
	if c.Conditions != "" {
		fmt.Fprintf(&b, "**%s**\n", c.Conditions)
	}
	fmt.Fprintf(&b, "🌡️ %.0f°C, ressenti %.0f°C\n", c.Temp, c.FeelsLike)
	fmt.Fprintf(&b, "☔ %s\n", formatPrecip(c.PrecipProb, c.Precip, c.PrecipType))
	fmt.Fprintf(&b, "💨 %.0f km/h (rafales %.0f km/h) %s\n", c.WindSpeed, c.WindGust, windDirection(c.WindDir))
	fmt.Fprintf(&b, "💧 humidité %.0f%%, nuages %.0f%%, visibilité %.0f km\n", c.Humidity, c.CloudCover, c.Visibility)
	return b.String()
}

// FormatRain lists the hours of the day with a chance of precipitation.
func FormatRain(location string, f *DailyForecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prévisions de pluie pour aujourd'hui à %s:\n", location)

	rainy := 0
	for _, h := range f.Day.Hours {
		if h.PrecipProb <= 0 && h.Precip <= 0 {
			continue
		}
		rainy++
		fmt.Fprintf(&b, "• %s : %s\n", shortTime(h.Time), formatPrecip(h.PrecipProb, h.Precip, h.PrecipType))
	}
	if rainy == 0 {
		b.WriteString("Pas de pluie prévue aujourd'hui ☀️\n")
	}
	return b.String()
}

func formatPrecip(prob, amount float64, kinds []string) string {
	if prob <= 0 && amount <= 0 {
		return "pas de précipitations"
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if n, ok := precipNames[k]; ok {
			names = append(names, n)
		} else {
			names = append(names, k)
		}
	}
	kind := "précipitations"
	if len(names) > 0 {
		kind = strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s %.0f%% (%.1f mm)", kind, prob, amount)
}

// windDirection converts degrees to a compass point.
func windDirection(deg float64) string {
	points := []string{"N", "NE", "E", "SE", "S", "SO", "O", "NO"}
	i := int((deg+22.5)/45) % len(points)
	if i < 0 {
		i += len(points)
	}
	return points[i]
}

// shortTime trims "HH:MM:SS" to "HH:MM".
func shortTime(s string) string {
	if len(s) >= 5 {
		return s[:5]
	}
	return s
}

// FormatHourly renders the hourly forecast as a fixed-width table, sent as
// an attachment next to the daily bulletin.
func FormatHourly(location string, f *DailyForecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n", location, f.Day.Date)
	fmt.Fprintf(&b, "%-6s %7s %6s %7s  %s\n", "heure", "temp", "pluie", "mm", "conditions")
	for _, h := range f.Day.Hours {
		fmt.Fprintf(&b, "%-6s %5.1f°C %5.0f%% %7.1f  %s\n", shortTime(h.Time), h.Temp, h.PrecipProb, h.Precip, h.Conditions)
	}
	return b.String()
}
