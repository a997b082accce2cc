package models

import (
	"database/sql/driver"
	"fmt"
)

// Status is shared by orders, payments and invoices. It is persisted as a
// small integer; Scan rejects values it does not recognize so a corrupted or
// out-of-range row fails loudly instead of flowing through as zero.
type Status int

const (
	StatusPending   Status = 1
	StatusPaid      Status = 2
	StatusShipped   Status = 3
	StatusDelivered Status = 4
	StatusCancelled Status = 5
	StatusRefunded  Status = 6
	StatusReturned  Status = 7
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusPaid:      "PAID",
	StatusShipped:   "SHIPPED",
	StatusDelivered: "DELIVERED",
	StatusCancelled: "CANCELLED",
	StatusRefunded:  "REFUNDED",
	StatusReturned:  "RETURNED",
}

// String returns the canonical name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	var n int64
	switch v := src.(type) {
	case int64:
		n = v
	case []byte:
		if _, err := fmt.Sscanf(string(v), "%d", &n); err != nil {
			return fmt.Errorf("invalid status value %q", v)
		}
	default:
		return fmt.Errorf("unsupported status source type %T", src)
	}

	st := Status(n)
	if !st.Valid() {
		return fmt.Errorf("unknown status value %d", n)
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status value %d", int(s))
	}
	return int64(s), nil
}

// MarshalJSON renders the status by name for API responses.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}
