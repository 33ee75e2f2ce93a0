package booking

import "github.com/lumenspa/receptionist/internal/llm"

// Declarations returns the tool schemas shared by every channel.
func Declarations() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolCheckAvailability,
			Description: "List open appointment slots for a service on a date. Always call this before stating any availability.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date":         map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format"},
					"service_type": map[string]any{"type": "string", "description": "Service key, e.g. botox, hydrafacial, consultation"},
					"limit":        map[string]any{"type": "integer", "description": "Maximum number of suggested slots"},
				},
				"required": []string{"date", "service_type"},
			},
		},
		{
			Name:        ToolBookAppointment,
			Description: "Book an appointment at a time the customer selected from offered slots.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"customer_name":  map[string]any{"type": "string"},
					"customer_phone": map[string]any{"type": "string"},
					"customer_email": map[string]any{"type": "string"},
					"start_time":     map[string]any{"type": "string", "description": "ISO-8601 start time of the chosen slot"},
					"service_type":   map[string]any{"type": "string"},
					"provider":       map[string]any{"type": "string"},
					"notes":          map[string]any{"type": "string"},
				},
				"required": []string{"customer_name", "customer_phone", "start_time", "service_type"},
			},
		},
		{
			Name:        ToolRescheduleAppointment,
			Description: "Move an existing appointment to a new time.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"appointment_id": map[string]any{"type": "string"},
					"new_start_time": map[string]any{"type": "string", "description": "ISO-8601 new start time"},
					"service_type":   map[string]any{"type": "string"},
					"provider":       map[string]any{"type": "string"},
				},
				"required": []string{"appointment_id", "new_start_time", "service_type"},
			},
		},
		{
			Name:        ToolCancelAppointment,
			Description: "Cancel an existing appointment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"appointment_id":      map[string]any{"type": "string"},
					"cancellation_reason": map[string]any{"type": "string"},
				},
				"required": []string{"appointment_id"},
			},
		},
	}
}
