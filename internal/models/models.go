package models

import (
	"errors"
	"path"
	"strings"
	"time"
)

// Status is the processing state of a media object.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusComplete, StatusError:
		return true
	}
	return false
}

// transitions lists the conditional edges of the lifecycle.
// Entering ERROR from any state is handled separately as the unconditional fallback.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusComplete:   {StatusProcessing},
	StatusProcessing: {StatusComplete, StatusError},
}

// CanTransition reports whether the lifecycle allows moving from one status to another
// through a conditional write.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Media is the metadata record of an uploaded object.
type Media struct {
	ID        string    `json:"mediaId" db:"id"`
	Name      string    `json:"name" db:"name"`
	Size      int64     `json:"size" db:"size"`
	MimeType  string    `json:"mimetype" db:"mimetype"`
	Width     int       `json:"width" db:"width"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Attributes is what a conditional transition or a delete hands back about the record.
type Attributes struct {
	Name   string
	Width  int
	Status Status
}

var (
	ErrNotFound          = errors.New("media not found")
	ErrNotMatched        = errors.New("media status did not match expected status")
	ErrDuplicate         = errors.New("media already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInconsistentState = errors.New("media left processing unexpectedly")
	ErrNotReady          = errors.New("media processing not complete")
)

// Blob key prefixes.
const (
	PrefixUploads = "uploads"
	PrefixResized = "resized"
)

// ObjectKey addresses a blob as {prefix}/{id}/{name}.
type ObjectKey struct {
	Prefix  string
	MediaID string
	Name    string
}

func (k ObjectKey) String() string {
	return k.Prefix + "/" + k.MediaID + "/" + k.Name
}

// UploadKey is the key of the original upload.
func UploadKey(id, name string) ObjectKey {
	return ObjectKey{Prefix: PrefixUploads, MediaID: id, Name: name}
}

// ResizedKey is the key of the transformed output.
func ResizedKey(id, name string) ObjectKey {
	return ObjectKey{Prefix: PrefixResized, MediaID: id, Name: name}
}

// MediaIDFromKey extracts the media id from a blob key. The id is the second
// segment, unless the key has a single segment in which case the key is the id.
func MediaIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[1]
}

// CleanName reduces an uploaded filename to a single key segment.
func CleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
