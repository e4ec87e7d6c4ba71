package server

// Request types for WebSocket commands. Fields use go-playground/validator
// struct tags.

// EventsRequest is the request body for events/list.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=fire input lifecycle"`
}

// NotificationTestRequest is the request body for notifications/test.
type NotificationTestRequest struct {
	Channel string `json:"channel" validate:"required,oneof=webhook log email zabbix archive"`
}

// Validate checks the request against its struct tags.
func (r *EventsRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}
