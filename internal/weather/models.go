// Package weather provides the Visual Crossing API client and the text
// rendering of its forecasts.
package weather

// DailyForecast is today's forecast for one location.
type DailyForecast struct {
	Address         string
	ResolvedAddress string
	Timezone        string
	Day             DayForecast
}

// DayForecast holds the day-level values of a timeline response.
type DayForecast struct {
	Date        string         `json:"datetime"`
	Conditions  string         `json:"conditions"`
	Description string         `json:"description"`
	Icon        string         `json:"icon"`
	Temp        float64        `json:"temp"`
	TempMin     float64        `json:"tempmin"`
	TempMax     float64        `json:"tempmax"`
	FeelsLike   float64        `json:"feelslike"`
	Humidity    float64        `json:"humidity"`
	Precip      float64        `json:"precip"`
	PrecipProb  float64        `json:"precipprob"`
	PrecipType  []string       `json:"preciptype"`
	Snow        float64        `json:"snow"`
	SnowDepth   float64        `json:"snowdepth"`
	WindSpeed   float64        `json:"windspeed"`
	WindGust    float64        `json:"windgust"`
	WindDir     float64        `json:"winddir"`
	Pressure    float64        `json:"pressure"`
	UVIndex     float64        `json:"uvindex"`
	Sunrise     string         `json:"sunrise"`
	Sunset      string         `json:"sunset"`
	Hours       []HourForecast `json:"hours"`
}

// HourForecast holds one hourly slot of the day.
type HourForecast struct {
	Time       string   `json:"datetime"`
	Conditions string   `json:"conditions"`
	Temp       float64  `json:"temp"`
	Precip     float64  `json:"precip"`
	PrecipProb float64  `json:"precipprob"`
	PrecipType []string `json:"preciptype"`
}

// CurrentWeather is the latest observation for one location.
type CurrentWeather struct {
	Address         string
	ResolvedAddress string
	Timezone        string
	Conditions      CurrentConditions
}

// CurrentConditions mirrors the currentConditions block of a timeline response.
type CurrentConditions struct {
	Time       string   `json:"datetime"`
	Conditions string   `json:"conditions"`
	Icon       string   `json:"icon"`
	Temp       float64  `json:"temp"`
	FeelsLike  float64  `json:"feelslike"`
	Humidity   float64  `json:"humidity"`
	Precip     float64  `json:"precip"`
	PrecipProb float64  `json:"precipprob"`
	PrecipType []string `json:"preciptype"`
	Snow       float64  `json:"snow"`
	SnowDepth  float64  `json:"snowdepth"`
	WindSpeed  float64  `json:"windspeed"`
	WindGust   float64  `json:"windgust"`
	WindDir    float64  `json:"winddir"`
	Pressure   float64  `json:"pressure"`
	Visibility float64  `json:"visibility"`
	CloudCover float64  `json:"cloudcover"`
	UVIndex    float64  `json:"uvindex"`
}

// timelineResponse is the subset of the timeline payload the client reads.
type timelineResponse struct {
	Address           string             `json:"address"`
	ResolvedAddress   string             `json:"resolvedAddress"`
	Timezone          string             `json:"timezone"`
	Days              []DayForecast      `json:"days"`
	CurrentConditions *CurrentConditions `json:"currentConditions"`
}
