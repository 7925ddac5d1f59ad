package models

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RegistrationStep tracks the two-step registration wizard
type RegistrationStep string

const (
	StepAttendees RegistrationStep = "attendees"
	StepComplete  RegistrationStep = "complete"
)

// Plane is an aircraft a pilot attendee brings to the event
type Plane struct {
	Registration string `json:"registration"`
	Make         string `json:"make"`
	Model        string `json:"model"`
}

// PilotDetails are required for attendee types flagged requiresPilotDetails
type PilotDetails struct {
	AusNumber string  `json:"aus_number"`
	Planes    []Plane `json:"planes"`
}

// JuniorDetails are required for attendee types flagged requiresJuniorDetails
type JuniorDetails struct {
	DateOfBirth time.Time `json:"date_of_birth"`
}

// Attendee describes one person within a registration
type Attendee struct {
	AttendeeTypeID int            `json:"attendee_type_id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Email          string         `json:"email"`
	Pilot          *PilotDetails  `json:"pilot,omitempty"`
	Junior         *JuniorDetails `json:"junior,omitempty"`
}

// FullName returns the attendee's display name
func (a Attendee) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// AttendeeType is a priced category of attendee for an event
type AttendeeType struct {
	ID                    int    `json:"id"`
	EventID               int    `json:"event_id"`
	Name                  string `json:"name"`
	Price                 Money  `json:"price"`
	RequiresPilotDetails  bool   `json:"requires_pilot_details"`
	RequiresJuniorDetails bool   `json:"requires_junior_details"`
}

var attendeeEmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateFor checks personal details and the conditional sub-records for the given type
func (a Attendee) ValidateFor(t *AttendeeType, now time.Time) error {
	if strings.TrimSpace(a.FirstName) == "" || strings.TrimSpace(a.LastName) == "" {
		return fmt.Errorf("%w: attendee first and last name are required", ErrInvalidInput)
	}
	if a.Email != "" && !attendeeEmailRegex.MatchString(a.Email) {
		return fmt.Errorf("%w: attendee email format is invalid", ErrInvalidInput)
	}

	if t.RequiresPilotDetails {
		if a.Pilot == nil || strings.TrimSpace(a.Pilot.AusNumber) == "" {
			return fmt.Errorf("%w: %s requires an AUS number", ErrInvalidInput, t.Name)
		}
		if len(a.Pilot.Planes) == 0 {
			return fmt.Errorf("%w: %s requires at least one plane", ErrInvalidInput, t.Name)
		}
		for _, p := range a.Pilot.Planes {
			if strings.TrimSpace(p.Registration) == "" {
				return fmt.Errorf("%w: plane registration is required", ErrInvalidInput)
			}
		}
	} else if a.Pilot != nil {
		return fmt.Errorf("%w: pilot details are not accepted for %s", ErrInvalidInput, t.Name)
	}

	if t.RequiresJuniorDetails {
		if a.Junior == nil || a.Junior.DateOfBirth.IsZero() {
			return fmt.Errorf("%w: %s requires a date of birth", ErrInvalidInput, t.Name)
		}
		if a.Junior.DateOfBirth.After(now) {
			return fmt.Errorf("%w: date of birth cannot be in the future", ErrInvalidInput)
		}
	} else if a.Junior != nil {
		return fmt.Errorf("%w: junior details are not accepted for %s", ErrInvalidInput, t.Name)
	}

	return nil
}

// RegistrationDraft is an event registration held only in the cart session
type RegistrationDraft struct {
	DraftID   string     `json:"draft_id"`
	EventID   int        `json:"event_id"`
	Attendees []Attendee `json:"attendees"`
	// SubEventSelections maps a sub-event id to the indices of attendees taking it
	SubEventSelections map[int][]int   `json:"sub_event_selections"`
	Step               RegistrationStep `json:"step"`
}

// IsComplete returns true once sub-event selection has been submitted
func (d RegistrationDraft) IsComplete() bool {
	return d.Step == StepComplete
}

// SubEventIDs returns the selected sub-event ids in ascending order
func (d RegistrationDraft) SubEventIDs() []int {
	ids := make([]int, 0, len(d.SubEventSelections))
	for id := range d.SubEventSelections {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NormalizeSelections de-duplicates and validates attendee indices
func NormalizeSelections(selections map[int][]int, attendeeCount int) (map[int][]int, error) {
	out := make(map[int][]int, len(selections))
	for subEventID, indices := range selections {
		seen := make(map[int]bool, len(indices))
		var clean []int
		for _, idx := range indices {
			if idx < 0 || idx >= attendeeCount {
				return nil, fmt.Errorf("%w: attendee index %d out of range", ErrInvalidInput, idx)
			}
			if !seen[idx] {
				seen[idx] = true
				clean = append(clean, idx)
			}
		}
		if len(clean) == 0 {
			continue
		}
		sort.Ints(clean)
		out[subEventID] = clean
	}
	return out, nil
}

// Clone returns a deep copy of the draft
func (d RegistrationDraft) Clone() RegistrationDraft {
	cp := d
	cp.Attendees = make([]Attendee, len(d.Attendees))
	for i, a := range d.Attendees {
		ac := a
		if a.Pilot != nil {
			p := *a.Pilot
			p.Planes = append([]Plane(nil), a.Pilot.Planes...)
			ac.Pilot = &p
		}
		if a.Junior != nil {
			j := *a.Junior
			ac.Junior = &j
		}
		cp.Attendees[i] = ac
	}
	if d.SubEventSelections != nil {
		cp.SubEventSelections = make(map[int][]int, len(d.SubEventSelections))
		for k, v := range d.SubEventSelections {
			cp.SubEventSelections[k] = append([]int(nil), v...)
		}
	}
	return cp
}

// EventRegistration is the persisted form of a completed draft
type EventRegistration struct {
	ID        int                    `json:"id"`
	UserID    int                    `json:"user_id"`
	EventID   int                    `json:"event_id"`
	TotalFee  Money                  `json:"total_fee"`
	PaymentID *int                   `json:"payment_id,omitempty"`
	Attendees []RegisteredAttendee   `json:"attendees"`
	SubEvents []SubEventRegistration `json:"sub_events"`
	CreatedAt time.Time              `json:"created_at"`
}

// RegisteredAttendee is an attendee row with the fee charged for it
type RegisteredAttendee struct {
	ID   int      `json:"id"`
	Fee  Money    `json:"fee"`
	Info Attendee `json:"info"`
}

// SubEventRegistration links an attendee (by index within the registration) to a sub-event
type SubEventRegistration struct {
	SubEventID    int   `json:"sub_event_id"`
	AttendeeIndex int   `json:"attendee_index"`
	AttendeeID    int   `json:"attendee_id"`
	Fee           Money `json:"fee"`
}
