package gtfs

// StationPlatform maps the station codes reported by vehicles onto gtfs stops.
// CisId is the numeric station code, AswId the legacy node/stop code.
type StationPlatform struct {
	CisId        int    `db:"cis_id" json:"cis_id"`
	AswId        string `db:"asw_id" json:"asw_id"`
	PlatformCode string `db:"platform_code" json:"platform_code"`
	StopId       string `db:"stop_id" json:"stop_id"`
}

// Rail stations use CIS codes within this range.
const (
	RailCisMin = 5400000
	RailCisMax = 5499999
)

// IsRailStation reports whether cisId belongs to the range reserved for rail stations.
func IsRailStation(cisId int) bool {
	return cisId >= RailCisMin && cisId <= RailCisMax
}
