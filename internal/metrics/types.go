package metrics

// ClientTotal is one client's lifetime traffic totals.
type ClientTotal struct {
	ClientIP      string `json:"clientIP"`
	TotalBytes    int64  `json:"totalBytes"`
	TotalDuration int64  `json:"totalDuration"`
}

// TotalSumResult holds per-client totals plus the distinct client count.
type TotalSumResult struct {
	Count int64         `json:"count"`
	Items []ClientTotal `json:"items"`
}

// TotalSumOptions narrow a TotalSum call. Explicit bounds win over the fresh
// window; with neither, the query is unrestricted.
type TotalSumOptions struct {
	Limit     int
	Fresh     bool
	StartTime int64
	EndTime   int64
}

// TimeRange is an inclusive millisecond window. Zero bounds mean unrestricted.
type TimeRange struct {
	StartTime int64
	EndTime   int64
}

// StatusBucket is one status-class histogram bucket ("2XX", "4XX", ...).
type StatusBucket struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// ContentTypeStat is one content type's request, byte, and hit totals.
type ContentTypeStat struct {
	ContentType  string  `json:"contentType"`
	RequestCount int64   `json:"requestCount"`
	TotalBytes   int64   `json:"totalBytes"`
	HitCount     int64   `json:"hitCount"`
	HitRate      float64 `json:"hitRate"`
}

// GlobalStates are the lifetime rollup figures of an Overview response.
type GlobalStates struct {
	TotalRequests int64             `json:"totalRequests"`
	TotalBytes    int64             `json:"totalBytes"`
	TotalDuration int64             `json:"totalDuration"`
	Bandwidth     float64           `json:"bandwidth"`
	HitRatio      float64           `json:"hitRatio"`
	SuccessRate   float64           `json:"successRate"`
	Statuses      []StatusBucket    `json:"statuses"`
	ContentTypes  []ContentTypeStat `json:"contentTypes"`
}

// CurrentStates are the trailing-window figures of an Overview response.
type CurrentStates struct {
	RequestsPerSecond float64        `json:"requestsPerSecond"`
	Statuses          []StatusBucket `json:"statuses"`
}

// OverviewResult pairs lifetime and trailing-window rollups.
type OverviewResult struct {
	GlobalStates  GlobalStates  `json:"globalStates"`
	CurrentStates CurrentStates `json:"currentStates"`
}

// UserInfo is one client's traffic profile: lifetime and current speeds plus
// the most recent activity attributes.
type UserInfo struct {
	ClientIP      string  `json:"clientIP"`
	TotalBytes    int64   `json:"totalBytes"`
	TotalDuration int64   `json:"totalDuration"`
	Speed         float64 `json:"speed"`
	CurrentSpeed  float64 `json:"currentSpeed"`
	User          string  `json:"user"`
	LastURL       string  `json:"lastUrl"`
	LastActivity  int64   `json:"lastActivity"`
	Country       string  `json:"country,omitempty"`
}

// DomainInfo is one domain's grouped traffic and error figures.
type DomainInfo struct {
	Domain        string  `json:"domain"`
	RequestCount  int64   `json:"requestCount"`
	TotalBytes    int64   `json:"totalBytes"`
	TotalDuration int64   `json:"totalDuration"`
	LastActivity  int64   `json:"lastActivity"`
	ErrorsCount   int64   `json:"errorsCount"`
	ErrorsRate    float64 `json:"errorsRate"`
	HasBlocked    bool    `json:"hasBlocked"`
}

// DomainsResult is one page of grouped domains plus the total group count.
type DomainsResult struct {
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Items []DomainInfo `json:"items"`
}

// DomainsOptions narrow and order a DomainsInfo call.
type DomainsOptions struct {
	Search    string
	Limit     int
	Page      int
	SortBy    string
	SortOrder string
	StartTime int64
	EndTime   int64
}
