package models

type Service struct {
	ServiceID            string `json:"service_id"`
	Name                 string `json:"name"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	Active               bool   `json:"active"`
}

type NotificationSound struct {
	SoundID   string `json:"sound_id"`
	Name      string `json:"name"`
	FilePath  string `json:"file_path"`
	IsDefault bool   `json:"is_default"`
}
