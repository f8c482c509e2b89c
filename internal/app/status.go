package app

import (
	"time"

	"github.com/kagami-sh/kagami/internal/hostprofile"
)

// SessionStatus is one live session's snapshot for /status.
type SessionStatus struct {
	UserID    string    `json:"user_id"`
	ModelID   string    `json:"model_id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Drops     int64     `json:"frame_drops"`
	Messages  int       `json:"messages"`
	StartedAt time.Time `json:"started_at"`
}

// EngineStatus reports which engines are wired.
type EngineStatus struct {
	LLM      bool `json:"llm"`
	TTS      bool `json:"tts"`
	Enhanced bool `json:"enhanced_pipeline"`
}

// SystemStatus aggregates the runtime picture served at /status.
type SystemStatus struct {
	StartedAt time.Time           `json:"started_at"`
	Uptime    string              `json:"uptime"`
	StoreOK   bool                `json:"store_ok"`
	Engines   EngineStatus        `json:"engines"`
	Sessions  []SessionStatus     `json:"sessions"`
	Host      hostprofile.Profile `json:"host"`
}

// Status captures the current system state. Message counts are read from
// the store per session; a store failure flips StoreOK and leaves counts
// at zero.
func (a *App) Status() SystemStatus {
	st := SystemStatus{
		StartedAt: a.startedAt,
		Uptime:    time.Since(a.startedAt).Round(time.Second).String(),
		StoreOK:   a.store.Ping() == nil,
		Engines: EngineStatus{
			LLM:      a.engines.LLM != nil,
			TTS:      a.engines.TTS != nil,
			Enhanced: a.engines.Enhanced.VAD != nil,
		},
		Host: a.profile,
	}

	for _, s := range a.sessions.Active() {
		ss := SessionStatus{
			UserID:    s.Key.UserID,
			ModelID:   s.Key.ModelID,
			Mode:      s.Mode(),
			State:     s.State().String(),
			Drops:     s.Drops(),
			StartedAt: s.StartedAt,
		}
		if n, err := a.store.MessageCount(s.Key); err == nil {
			ss.Messages = n
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st
}
