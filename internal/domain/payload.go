package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadError marks a job payload that could not be decoded for its type.
// Decode failures surface as distinct dispatch errors instead of silently
// producing an empty struct.
type PayloadError struct {
	JobType string
	Err     error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid payload for job type %q: %v", e.JobType, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// InvitePayload carries a connection-invite job.
type InvitePayload struct {
	LeadID     string `json:"lead_id"`
	ProfileURL string `json:"profile_url"`
	Note       string `json:"note,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
}

// MessagePayload carries a follow-up message job.
type MessagePayload struct {
	LeadID    string `json:"lead_id"`
	Message   string `json:"message"`
	VariantID string `json:"variant_id,omitempty"`
}

// CheckAcceptedPayload carries an invite-acceptance poll job.
type CheckAcceptedPayload struct {
	LeadID     string `json:"lead_id"`
	ProfileURL string `json:"profile_url"`
}

// WithdrawPayload carries an invite-withdrawal job.
type WithdrawPayload struct {
	LeadID     string `json:"lead_id"`
	ProfileURL string `json:"profile_url"`
	Reason     string `json:"reason,omitempty"`
}

// DecodePayload parses a raw job payload into the typed struct for the job
// type. Unknown types and malformed JSON return a *PayloadError.
// Parameters:
//   - jobType: job type identifier selecting the payload shape.
//   - raw: JSON payload text as stored on the job row.
// Returns:
//   - interface{}: one of the typed payload structs.
//   - error: *PayloadError if the type is unknown or decoding fails.
func DecodePayload(jobType, raw string) (interface{}, error) {
	decode := func(dst interface{}) (interface{}, error) {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return nil, &PayloadError{JobType: jobType, Err: err}
		}
		return dst, nil
	}

	switch jobType {
	case JobTypeSendInvite:
		return decode(&InvitePayload{})
	case JobTypeSendMessage:
		return decode(&MessagePayload{})
	case JobTypeCheckAccepted:
		return decode(&CheckAcceptedPayload{})
	case JobTypeWithdraw:
		return decode(&WithdrawPayload{})
	default:
		return nil, &PayloadError{JobType: jobType, Err: fmt.Errorf("unknown job type")}
	}
}
