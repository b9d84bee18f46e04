package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Export renders events in the given format
func Export(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	if events == nil {
		events = []*AuditEvent{}
	}
	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	}
	return nil, fmt.Errorf("unsupported export format: %q", format)
}

// ContentType returns the HTTP content type for format
func ContentType(format ExportFormat) string {
	switch format {
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	case ExportFormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

func exportJSON(events []*AuditEvent) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"EventType",
	"Status",
	"ActorEmail",
	"TargetEmail",
	"Resource",
	"PreviousRole",
	"NewRole",
	"Reason",
	"RequestID",
}

func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			event.ActorEmail,
			event.TargetEmail,
			event.Resource,
			event.PreviousRole,
			event.NewRole,
			event.Reason,
			event.RequestID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
