package models

import (
	"time"
)

// LocalDateTimeLayout is the wall-clock format the service form submits for DateTime.
const LocalDateTimeLayout = "2006-01-02T15:04"

type JobCardStatus string

const (
	StatusCompleted JobCardStatus = "completed"
	StatusPending   JobCardStatus = "pending"
)

// JobCard is the in-memory shape of a service record. Its JSON form is the
// snapshot written to the local cache.
type JobCard struct {
	ID               string `json:"id"`
	HospitalName     string `json:"hospitalName"`
	MachineType      string `json:"machineType"`
	MachineModel     string `json:"machineModel"`
	SerialNumber     string `json:"serialNumber"`
	ProblemReported  string `json:"problemReported"`
	ServicePerformed string `json:"servicePerformed"`

	EngineerName string `json:"engineerName"`
	EngineerID   string `json:"engineerId"`

	// DateTime is when the service happened, in the viewer's wall clock.
	DateTime  string        `json:"dateTime"`
	CreatedAt time.Time     `json:"createdAt"`
	Status    JobCardStatus `json:"status"`

	FacilitySignature   string   `json:"facilitySignature,omitempty"`
	EngineerSignature   string   `json:"engineerSignature,omitempty"`
	BeforeServiceImages []string `json:"beforeServiceImages"`
	AfterServiceImages  []string `json:"afterServiceImages"`
	FacilityStampImage  string   `json:"facilityStampImage,omitempty"`

	ManualUpload bool   `json:"manualUpload,omitempty"`
	ManualFile   string `json:"manualFile,omitempty"`
	ManualReason string `json:"manualReason,omitempty"`
}

// Draft is what the engineer submits. Identity, id, status and creation time
// are stamped by the store.
type Draft struct {
	HospitalName     string `json:"hospitalName"`
	MachineType      string `json:"machineType"`
	MachineModel     string `json:"machineModel"`
	SerialNumber     string `json:"serialNumber"`
	ProblemReported  string `json:"problemReported"`
	ServicePerformed string `json:"servicePerformed"`
	DateTime         string `json:"dateTime"`

	FacilitySignature   string   `json:"facilitySignature,omitempty"`
	EngineerSignature   string   `json:"engineerSignature,omitempty"`
	BeforeServiceImages []string `json:"beforeServiceImages,omitempty"`
	AfterServiceImages  []string `json:"afterServiceImages,omitempty"`
	FacilityStampImage  string   `json:"facilityStampImage,omitempty"`

	ManualUpload bool   `json:"manualUpload,omitempty"`
	ManualFile   string `json:"manualFile,omitempty"`
	ManualReason string `json:"manualReason,omitempty"`
}

// JobCardRow is the storage shape of the job_cards table.
type JobCardRow struct {
	ID               string `json:"id"`
	HospitalName     string `json:"hospital_name"`
	MachineType      string `json:"machine_type"`
	MachineModel     string `json:"machine_model"`
	SerialNumber     string `json:"serial_number"`
	ProblemReported  string `json:"problem_reported"`
	ServicePerformed string `json:"service_performed"`

	EngineerName string `json:"engineer_name"`
	EngineerID   string `json:"engineer_id"`

	// DateTime is stored in UTC, RFC 3339.
	DateTime  string    `json:"date_time"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`

	FacilitySignature   string   `json:"facility_signature"`
	EngineerSignature   string   `json:"engineer_signature"`
	BeforeServiceImages []string `json:"before_service_images"`
	AfterServiceImages  []string `json:"after_service_images"`
	FacilityStampImage  string   `json:"facility_stamp_image"`

	ManualUpload bool   `json:"manual_upload"`
	ManualFile   string `json:"manual_file"`
	ManualReason string `json:"manual_reason"`
}
