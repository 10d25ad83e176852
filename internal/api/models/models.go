// Package models holds the request and response bodies of the status API.
package models

import (
	"github.com/smazurov/pwmirror/internal/events"
	"github.com/smazurov/pwmirror/internal/session"
	"github.com/smazurov/pwmirror/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// FormatData is the negotiated format of a session.
type FormatData struct {
	Width       uint32 `json:"width" example:"1920" doc:"Frame width in pixels"`
	Height      uint32 `json:"height" example:"1080" doc:"Frame height in pixels"`
	PixelFormat string `json:"pixel_format" example:"BGRx" doc:"SPA video format name"`
	FourCC      string `json:"fourcc,omitempty" example:"XR24" doc:"Matching DRM fourcc"`
	Modifier    uint64 `json:"modifier" doc:"DRM format modifier"`
}

// StagingData counts planes by how they reached the consumer.
type StagingData struct {
	ZeroCopyPlanes uint64 `json:"zero_copy_planes" doc:"Planes passed through with the producer descriptor"`
	CopiedPlanes   uint64 `json:"copied_planes" doc:"Planes copied into sealed memfd regions"`
	CopiedBytes    uint64 `json:"copied_bytes" doc:"Bytes copied into sealed memfd regions"`
}

type SessionData struct {
	ID         string            `json:"id" doc:"Session identifier"`
	State      string            `json:"state" example:"streaming" doc:"Session state"`
	Format     *FormatData       `json:"format,omitempty" doc:"Negotiated format, absent before negotiation"`
	Error      string            `json:"error,omitempty" doc:"Terminal error of a closed session"`
	Stats      session.Stats     `json:"stats" doc:"Cumulative session counters"`
	Staging    *StagingData      `json:"staging,omitempty" doc:"Staging counters, absent until a frame was staged"`
	Properties map[string]string `json:"properties,omitempty" doc:"Stream properties sent on connect"`
}

type SessionResponse struct {
	Body SessionData
}

// Log models
type LogsRequest struct {
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum number of entries"`
	Module string `query:"module" doc:"Only return entries of this module"`
}

type LogsData struct {
	Entries []events.LogEntryEvent `json:"entries" doc:"Oldest first"`
	Count   int                    `json:"count" doc:"Number of returned entries"`
}

type LogsResponse struct {
	Body LogsData
}
