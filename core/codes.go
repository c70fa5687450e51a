package core

import "fmt"

// SortMethod orders a leaderboard.
type SortMethod int

const (
	SortAscending SortMethod = iota
	SortDescending
)

// DisplayType tells clients how to render scores.
type DisplayType int

const (
	DisplayNumeric DisplayType = iota
	DisplayTimeSeconds
	DisplayTimeMilliSeconds
)

// DataRequest selects which rows a download returns.
type DataRequest int

const (
	RequestGlobal DataRequest = iota
	RequestGlobalAroundUser
	RequestFriends
)

// UploadScoreMethod decides whether an upload may lower a stored score.
type UploadScoreMethod int

const (
	UploadKeepBest UploadScoreMethod = iota
	UploadForceUpdate
)

// Unknown codes map to a fixed fallback instead of failing.

// SortMethodFromCode maps 0 to ascending and anything else to descending.
func SortMethodFromCode(code int32) SortMethod {
	switch code {
	case 0:
		return SortAscending
	case 1:
		return SortDescending
	default:
		return SortDescending
	}
}

// DisplayTypeFromCode maps 0/1/2 and falls back to numeric.
func DisplayTypeFromCode(code int32) DisplayType {
	switch code {
	case 0:
		return DisplayNumeric
	case 1:
		return DisplayTimeSeconds
	case 2:
		return DisplayTimeMilliSeconds
	default:
		return DisplayNumeric
	}
}

// DataRequestFromCode maps 0/1/2 and falls back to global.
func DataRequestFromCode(code int32) DataRequest {
	switch code {
	case 0:
		return RequestGlobal
	case 1:
		return RequestGlobalAroundUser
	case 2:
		return RequestFriends
	default:
		return RequestGlobal
	}
}

// UploadScoreMethodFromCode maps 0/1 and falls back to keep-best.
func UploadScoreMethodFromCode(code int32) UploadScoreMethod {
	switch code {
	case 0:
		return UploadKeepBest
	case 1:
		return UploadForceUpdate
	default:
		return UploadKeepBest
	}
}

func (s SortMethod) String() string {
	switch s {
	case SortAscending:
		return "ascending"
	case SortDescending:
		return "descending"
	}
	return fmt.Sprintf("SortMethod(%d)", int(s))
}

func (d DisplayType) String() string {
	switch d {
	case DisplayNumeric:
		return "numeric"
	case DisplayTimeSeconds:
		return "time_seconds"
	case DisplayTimeMilliSeconds:
		return "time_milliseconds"
	}
	return fmt.Sprintf("DisplayType(%d)", int(d))
}

func (r DataRequest) String() string {
	switch r {
	case RequestGlobal:
		return "global"
	case RequestGlobalAroundUser:
		return "global_around_user"
	case RequestFriends:
		return "friends"
	}
	return fmt.Sprintf("DataRequest(%d)", int(r))
}

func (m UploadScoreMethod) String() string {
	switch m {
	case UploadKeepBest:
		return "keep_best"
	case UploadForceUpdate:
		return "force_update"
	}
	return fmt.Sprintf("UploadScoreMethod(%d)", int(m))
}

// Better reports whether score a beats score b under the sort method.
func (s SortMethod) Better(a, b int32) bool {
	if s == SortAscending {
		return a < b
	}
	return a > b
}
