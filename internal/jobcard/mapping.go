package jobcard

import (
	"fmt"
	"slices"
	"time"

	"jobcard-backend/internal/models"
)

// ToRow translates an in-memory job card into the storage schema. DateTime is
// converted from the viewer's wall clock in loc to UTC.
func ToRow(card models.JobCard, loc *time.Location) (models.JobCardRow, error) {
	dateTime, err := LocalToUTC(card.DateTime, loc)
	if err != nil {
		return models.JobCardRow{}, err
	}

	return models.JobCardRow{
		ID:                  card.ID,
		HospitalName:        card.HospitalName,
		MachineType:         card.MachineType,
		MachineModel:        card.MachineModel,
		SerialNumber:        card.SerialNumber,
		ProblemReported:     card.ProblemReported,
		ServicePerformed:    card.ServicePerformed,
		EngineerName:        card.EngineerName,
		EngineerID:          card.EngineerID,
		DateTime:            dateTime,
		CreatedAt:           card.CreatedAt.UTC(),
		Status:              string(card.Status),
		FacilitySignature:   card.FacilitySignature,
		EngineerSignature:   card.EngineerSignature,
		BeforeServiceImages: slices.Clone(card.BeforeServiceImages),
		AfterServiceImages:  slices.Clone(card.AfterServiceImages),
		FacilityStampImage:  card.FacilityStampImage,
		ManualUpload:        card.ManualUpload,
		ManualFile:          card.ManualFile,
		ManualReason:        card.ManualReason,
	}, nil
}

// FromRow translates a stored row into the in-memory shape, presenting both
// timestamps in loc. A date_time that is not RFC 3339 is kept verbatim.
func FromRow(row models.JobCardRow, loc *time.Location) models.JobCard {
	return models.JobCard{
		ID:                  row.ID,
		HospitalName:        row.HospitalName,
		MachineType:         row.MachineType,
		MachineModel:        row.MachineModel,
		SerialNumber:        row.SerialNumber,
		ProblemReported:     row.ProblemReported,
		ServicePerformed:    row.ServicePerformed,
		EngineerName:        row.EngineerName,
		EngineerID:          row.EngineerID,
		DateTime:            UTCToLocal(row.DateTime, loc),
		CreatedAt:           row.CreatedAt.In(loc),
		Status:              models.JobCardStatus(row.Status),
		FacilitySignature:   row.FacilitySignature,
		EngineerSignature:   row.EngineerSignature,
		BeforeServiceImages: slices.Clone(row.BeforeServiceImages),
		AfterServiceImages:  slices.Clone(row.AfterServiceImages),
		FacilityStampImage:  row.FacilityStampImage,
		ManualUpload:        row.ManualUpload,
		ManualFile:          row.ManualFile,
		ManualReason:        row.ManualReason,
	}
}

// LocalToUTC parses a wall-clock value in loc and renders it as UTC RFC 3339.
// An empty value stays empty.
func LocalToUTC(value string, loc *time.Location) (string, error) {
	if value == "" {
		return "", nil
	}
	t, err := time.ParseInLocation(models.LocalDateTimeLayout, value, loc)
	if err != nil {
		return "", fmt.Errorf("invalid dateTime %q: %w", value, err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func UTCToLocal(value string, loc *time.Location) string {
	if value == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return t.In(loc).Format(models.LocalDateTimeLayout)
}
