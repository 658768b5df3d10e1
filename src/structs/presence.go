package structs

import "fmt"

// https://discord.com/developers/docs/events/gateway-events#update-presence
type Status = string

const (
	StatusOnline    Status = "online"
	StatusDND       Status = "dnd"
	StatusIdle      Status = "idle"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

type ActivityType = int

const (
	ActivityTypePlaying   ActivityType = 0
	ActivityTypeStreaming ActivityType = 1
	ActivityTypeListening ActivityType = 2
	ActivityTypeWatching  ActivityType = 3
	ActivityTypeCustom    ActivityType = 4
	ActivityTypeCompeting ActivityType = 5
)

type Activity struct {
	Name  string       `json:"name"`
	Type  ActivityType `json:"type"`
	URL   string       `json:"url,omitempty"`
	State string       `json:"state,omitempty"`
}

type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     Status     `json:"status"`
	AFK        bool       `json:"afk"`
}

func NewPresence(status Status, activities ...Activity) *Presence {
	if activities == nil {
		activities = []Activity{}
	}
	return &Presence{
		Activities: activities,
		Status:     status,
	}
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case StatusOnline, StatusDND, StatusIdle, StatusInvisible, StatusOffline:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}
