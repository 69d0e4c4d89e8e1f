package block

import (
	"encoding/json"
	"fmt"
	"time"
)

// PropertyType identifies which tagged value a property carries.
type PropertyType string

const (
	// PropertyCheckbox holds a boolean checked state.
	PropertyCheckbox PropertyType = "checkbox"
	// PropertyDate holds a date with optional time and end date.
	PropertyDate PropertyType = "date"
	// PropertyTag holds an ordered list of tag ids.
	PropertyTag PropertyType = "tag"
	// PropertyPriority holds a priority level.
	PropertyPriority PropertyType = "priority"
	// PropertyRepeat holds a recurrence rule, or none.
	PropertyRepeat PropertyType = "repeat"
	// PropertyContact holds phone/email contact info.
	PropertyContact PropertyType = "contact"
	// PropertyMemo holds free-form memo text.
	PropertyMemo PropertyType = "memo"
	// PropertyPerson holds an ordered list of linked block ids.
	PropertyPerson PropertyType = "person"
	// PropertyUrgent marks a block as urgent with a slot assignment.
	PropertyUrgent PropertyType = "urgent"
	// PropertyDuration holds an estimated duration in minutes.
	PropertyDuration PropertyType = "duration"
)

// PriorityLevel is the value space for priority properties.
type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
	PriorityNone   PriorityLevel = "none"
)

// Value is the tagged union carried by a Property. The concrete type is
// determined by the property's Type. Values are replaced wholesale; there is
// no partial field patch at this level.
type Value interface {
	// Kind returns the PropertyType this value belongs to.
	Kind() PropertyType
}

// CheckboxValue is the value for checkbox properties.
type CheckboxValue struct {
	Checked bool `json:"checked"`
}

// DateValue is the value for date properties. Dates and times are kept as
// strings; this core does not interpret them.
type DateValue struct {
	Date    string `json:"date"`
	Time    string `json:"time,omitempty"`
	EndDate string `json:"end_date,omitempty"`
}

// TagValue is the value for tag properties. Order is significant.
type TagValue struct {
	TagIDs []string `json:"tag_ids"`
}

// PriorityValue is the value for priority properties.
type PriorityValue struct {
	Level PriorityLevel `json:"level"`
}

// RepeatConfig describes a recurrence rule.
type RepeatConfig struct {
	Type     string `json:"type"` // daily, weekly, monthly, yearly
	Interval int    `json:"interval"`
	Weekdays []int  `json:"weekdays,omitempty"`
}

// RepeatValue is the value for repeat properties. A nil Config means the
// property exists but no recurrence is configured.
type RepeatValue struct {
	Config *RepeatConfig `json:"config"`
}

// ContactValue is the value for contact properties.
type ContactValue struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// MemoValue is the value for memo properties.
type MemoValue struct {
	Text string `json:"text"`
}

// PersonValue is the value for person properties. Order is significant.
type PersonValue struct {
	BlockIDs []string `json:"block_ids"`
}

// UrgentValue is the value for urgent properties.
type UrgentValue struct {
	AddedAt   time.Time `json:"added_at"`
	SlotIndex int       `json:"slot_index"`
}

// DurationValue is the value for duration properties.
type DurationValue struct {
	Minutes int `json:"minutes"`
}

func (CheckboxValue) Kind() PropertyType { return PropertyCheckbox }
func (DateValue) Kind() PropertyType     { return PropertyDate }
func (TagValue) Kind() PropertyType      { return PropertyTag }
func (PriorityValue) Kind() PropertyType { return PropertyPriority }
func (RepeatValue) Kind() PropertyType   { return PropertyRepeat }
func (ContactValue) Kind() PropertyType  { return PropertyContact }
func (MemoValue) Kind() PropertyType     { return PropertyMemo }
func (PersonValue) Kind() PropertyType   { return PropertyPerson }
func (UrgentValue) Kind() PropertyType   { return PropertyUrgent }
func (DurationValue) Kind() PropertyType { return PropertyDuration }

// Property is a typed, named attribute attached to a Block.
//
// A block may carry more than one property of the same type; operations that
// address a property "by type" act on the first match in list order.
type Property struct {
	ID    string       `json:"id"`
	Type  PropertyType `json:"type"`
	Name  string       `json:"name"`
	Value Value        `json:"value"`
}

// propertyJSON is the wire form of a Property; Value is decoded lazily so it
// can be dispatched on Type.
type propertyJSON struct {
	ID    string          `json:"id"`
	Type  PropertyType    `json:"type"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (p Property) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s value: %w", p.Type, err)
	}
	return json.Marshal(propertyJSON{
		ID:    p.ID,
		Type:  p.Type,
		Name:  p.Name,
		Value: raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The value payload is decoded
// according to the property type.
func (p *Property) UnmarshalJSON(data []byte) error {
	var pj propertyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}

	value, err := decodeValue(pj.Type, pj.Value)
	if err != nil {
		return err
	}

	p.ID = pj.ID
	p.Type = pj.Type
	p.Name = pj.Name
	p.Value = value
	return nil
}

// decodeValue decodes a raw value payload into the concrete type for typ.
func decodeValue(typ PropertyType, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("property type %q has no value", typ)
	}

	var value Value
	switch typ {
	case PropertyCheckbox:
		value = &CheckboxValue{}
	case PropertyDate:
		value = &DateValue{}
	case PropertyTag:
		value = &TagValue{}
	case PropertyPriority:
		value = &PriorityValue{}
	case PropertyRepeat:
		value = &RepeatValue{}
	case PropertyContact:
		value = &ContactValue{}
	case PropertyMemo:
		value = &MemoValue{}
	case PropertyPerson:
		value = &PersonValue{}
	case PropertyUrgent:
		value = &UrgentValue{}
	case PropertyDuration:
		value = &DurationValue{}
	default:
		return nil, fmt.Errorf("unknown property type %q", typ)
	}

	if err := json.Unmarshal(raw, value); err != nil {
		return nil, fmt.Errorf("failed to decode %s value: %w", typ, err)
	}
	return value, nil
}

// Clone returns a deep copy of the property.
func (p Property) Clone() Property {
	out := p
	out.Value = cloneValue(p.Value)
	return out
}

// cloneValue deep-copies a tagged value.
func cloneValue(value Value) Value {
	switch v := value.(type) {
	case *TagValue:
		cp := *v
		cp.TagIDs = append([]string(nil), v.TagIDs...)
		return &cp
	case TagValue:
		v.TagIDs = append([]string(nil), v.TagIDs...)
		return v
	case *PersonValue:
		cp := *v
		cp.BlockIDs = append([]string(nil), v.BlockIDs...)
		return &cp
	case PersonValue:
		v.BlockIDs = append([]string(nil), v.BlockIDs...)
		return v
	case *RepeatValue:
		cp := *v
		if v.Config != nil {
			cfg := *v.Config
			cfg.Weekdays = append([]int(nil), v.Config.Weekdays...)
			cp.Config = &cfg
		}
		return &cp
	case RepeatValue:
		if v.Config != nil {
			cfg := *v.Config
			cfg.Weekdays = append([]int(nil), v.Config.Weekdays...)
			v.Config = &cfg
		}
		return v
	case *CheckboxValue:
		cp := *v
		return &cp
	case *DateValue:
		cp := *v
		return &cp
	case *PriorityValue:
		cp := *v
		return &cp
	case *ContactValue:
		cp := *v
		return &cp
	case *MemoValue:
		cp := *v
		return &cp
	case *UrgentValue:
		cp := *v
		return &cp
	case *DurationValue:
		cp := *v
		return &cp
	}
	return value
}

// Validate checks that the property's value matches its declared type.
func (p Property) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("property id is required")
	}
	if p.Type == "" {
		return fmt.Errorf("property type is required")
	}
	if p.Value == nil {
		return fmt.Errorf("property %s has no value", p.ID)
	}
	if p.Value.Kind() != p.Type {
		return fmt.Errorf("property %s declares type %q but carries a %q value",
			p.ID, p.Type, p.Value.Kind())
	}
	return nil
}
