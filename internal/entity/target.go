package entity

import "fmt"

type Encoding string

const (
	EncodingCompressed Encoding = "compressed"
	EncodingRGB565     Encoding = "rgb565"
)

type ByteOrder string

const (
	BigEndian    ByteOrder = "big_endian"
	LittleEndian ByteOrder = "little_endian"
)

// TargetSpec describes the pixel buffer a destination screen expects.
// Width and Height differ between destinations (128 or 130) and always come from configuration.
type TargetSpec struct {
	Width     int       `json:"width" mapstructure:"width"`
	Height    int       `json:"height" mapstructure:"height"`
	Encoding  Encoding  `json:"encoding" mapstructure:"encoding"`
	ByteOrder ByteOrder `json:"byteOrder,omitempty" mapstructure:"byte_order"`
	Quality   int       `json:"quality,omitempty" mapstructure:"quality"`
	MaxBytes  int       `json:"maxBytes,omitempty" mapstructure:"max_bytes"`
}

func (s TargetSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSpec, s.Width, s.Height)
	}
	switch s.Encoding {
	case EncodingCompressed:
		if s.Quality < MinJPEGQuality || s.Quality > 100 {
			return fmt.Errorf("%w: quality %d outside [%d,100]", ErrInvalidSpec, s.Quality, MinJPEGQuality)
		}
		if s.MaxBytes <= 0 {
			return fmt.Errorf("%w: max bytes %d", ErrInvalidSpec, s.MaxBytes)
		}
	case EncodingRGB565:
		if s.ByteOrder != BigEndian && s.ByteOrder != LittleEndian {
			return fmt.Errorf("%w: byte order %q", ErrInvalidSpec, s.ByteOrder)
		}
	default:
		return fmt.Errorf("%w: encoding %q", ErrInvalidSpec, s.Encoding)
	}
	return nil
}

const (
	MinJPEGQuality  = 10
	JPEGQualityStep = 5
)

type TargetKind string

const (
	TargetGallery TargetKind = "gallery"
	TargetGroup   TargetKind = "group"
	TargetSlot    TargetKind = "slot"
)

// Category and subcategory indices of the gallery catalog on the device.
const (
	CategoryCount    = 12
	SubcategoryCount = 12
)

// UploadTarget says where an image goes. Only the fields of its Kind are meaningful.
type UploadTarget struct {
	Kind TargetKind `json:"kind"`

	Title       string `json:"title,omitempty"`
	Category    int    `json:"category"`
	Subcategory int    `json:"subcategory"`

	GroupID     int `json:"groupId,omitempty"`
	GroupNumber int `json:"groupNumber,omitempty"`

	Screen int `json:"screen,omitempty"`
	Slot   int `json:"slot,omitempty"`
}

func GalleryTarget(title string, category, subcategory int) UploadTarget {
	return UploadTarget{Kind: TargetGallery, Title: title, Category: category, Subcategory: subcategory}
}

func GroupTarget(groupID, groupNumber int) UploadTarget {
	return UploadTarget{Kind: TargetGroup, GroupID: groupID, GroupNumber: groupNumber}
}

func SlotTarget(screen, slot int) UploadTarget {
	return UploadTarget{Kind: TargetSlot, Screen: screen, Slot: slot}
}

// Validate checks the fields of the target's kind. Screen and slot upper bounds
// depend on the device and are checked by the flow service.
func (t UploadTarget) Validate() error {
	switch t.Kind {
	case TargetGallery:
		if t.Title == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidTarget)
		}
		if t.Category < 0 || t.Category >= CategoryCount {
			return fmt.Errorf("%w: category %d", ErrInvalidTarget, t.Category)
		}
		if t.Subcategory < 0 || t.Subcategory >= SubcategoryCount {
			return fmt.Errorf("%w: subcategory %d", ErrInvalidTarget, t.Subcategory)
		}
	case TargetGroup:
		if t.GroupID < 1 || t.GroupNumber < 1 {
			return fmt.Errorf("%w: group id %d number %d", ErrInvalidTarget, t.GroupID, t.GroupNumber)
		}
	case TargetSlot:
		if t.Screen < 1 || t.Slot < 1 {
			return fmt.Errorf("%w: screen %d slot %d", ErrInvalidTarget, t.Screen, t.Slot)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

func (t UploadTarget) String() string {
	switch t.Kind {
	case TargetGallery:
		return fmt.Sprintf("gallery(%q cat=%d sub=%d)", t.Title, t.Category, t.Subcategory)
	case TargetGroup:
		return fmt.Sprintf("group(id=%d number=%d)", t.GroupID, t.GroupNumber)
	case TargetSlot:
		return fmt.Sprintf("slot(screen=%d slot=%d)", t.Screen, t.Slot)
	}
	return string(t.Kind)
}
