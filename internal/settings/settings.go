// Package settings is the sole mutation path for the runtime-mutable
// Setting entity: every key is validated against a fixed bounds table
// before it reaches the store.
package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/store"
)

// Key names for the reserved settings of §4.5/§4.6.
const (
	KeyScale4KTo1080p  = "scale_4k_to_1080p"
	KeyBitrateFactor   = "bitrate_factor"
	KeyBitrateCap1080p = "bitrate_cap_1080p"
	KeyBitrateCap720p  = "bitrate_cap_720p"
	KeyBitrateCapOther = "bitrate_cap_other"
	KeyMinFileSizeMB   = "min_file_size_mb"
	KeyFileSort        = "queue.file_sort"
	KeyLibraryPriority = "queue.library_priority"
	KeyLastLibraryID   = "queue.last_library_id"

	// Fallback-path encoding controls (§4.5's quality-factor fallback, used
	// when the probed source has no usable bitrate).
	KeyCRFFallback        = "crf_fallback"
	KeyMaxBitrateFallback = "max_bitrate_fallback"
	KeyBufSizeFallback    = "buf_size_fallback"
	KeyNVENCPreset        = "nvenc_preset"
)

// kind distinguishes how a key's bound is checked.
type kind int

const (
	kindBool kind = iota
	kindFloatRange
	kindIntRange
	kindString
)

type bound struct {
	kind kind
	min  float64
	max  float64
	def  string
}

var bounds = map[string]bound{
	KeyScale4KTo1080p:  {kind: kindBool, def: "true"},
	KeyBitrateFactor:   {kind: kindFloatRange, min: 0, max: 1, def: "0.5"},
	KeyBitrateCap1080p: {kind: kindFloatRange, min: 0, max: 100, def: "6"},
	KeyBitrateCap720p:  {kind: kindFloatRange, min: 0, max: 100, def: "3"},
	KeyBitrateCapOther: {kind: kindFloatRange, min: 0, max: 100, def: "3"},
	KeyMinFileSizeMB:   {kind: kindIntRange, min: 0, max: 100000, def: "500"},

	KeyCRFFallback:        {kind: kindIntRange, min: 0, max: 51, def: "23"},
	KeyMaxBitrateFallback: {kind: kindFloatRange, min: 0, max: 100, def: "8"},
	KeyBufSizeFallback:    {kind: kindFloatRange, min: 0, max: 100, def: "16"},
	KeyNVENCPreset:        {kind: kindString, def: "p5"},
}

// Settings wraps the store's raw key/value table with validation.
type Settings struct {
	store *store.Store
}

// New constructs a Settings accessor over s.
func New(s *store.Store) *Settings {
	return &Settings{store: s}
}

// Set validates value against key's bounds and persists it. Keys with no
// bounds entry (queue.* controls, which are enum-validated by their own
// callers) are written through unchecked.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if b, ok := bounds[key]; ok {
		if err := validate(key, value, b); err != nil {
			return err
		}
	}
	return s.store.SetSetting(ctx, key, value)
}

func validate(key, value string, b bound) error {
	switch b.kind {
	case kindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q must be a bool, got %q", key, value))
		}
	case kindFloatRange:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q must be a number, got %q", key, value))
		}
		if v <= b.min || v > b.max {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q=%v out of bounds (%v, %v]", key, v, b.min, b.max))
		}
	case kindIntRange:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q must be an integer, got %q", key, value))
		}
		if float64(v) < b.min || float64(v) > b.max {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q=%v out of bounds [%v, %v]", key, v, b.min, b.max))
		}
	case kindString:
		if value == "" {
			return apperr.New(apperr.Validation, fmt.Sprintf("setting %q must not be empty", key))
		}
	}
	return nil
}

// Get returns the raw value for key, falling back to its default if unset
// and a default exists.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	v, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	if b, found := bounds[key]; found {
		return b.def, nil
	}
	return "", nil
}

// GetBool reads key as a bool.
func (s *Settings) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

// GetFloat reads key as a float64.
func (s *Settings) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}

// GetInt reads key as an int.
func (s *Settings) GetInt(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(v, 10, 64)
	return int(i), err
}

// GetString reads key as a raw string.
func (s *Settings) GetString(ctx context.Context, key string) (string, error) {
	return s.Get(ctx, key)
}

// EncodingSettings is the resolved bundle of encode-affecting values the
// transcode planner needs.
type EncodingSettings struct {
	Scale4KTo1080p     bool
	BitrateFactor      float64
	BitrateCap1080p    float64
	BitrateCap720p     float64
	BitrateCapOther    float64
	CRFFallback        int
	MaxBitrateFallback float64
	BufSizeFallback    float64
	NVENCPreset        string
}

// EncodingSettings resolves every §4.5 key into one bundle, reading each
// key from the store in turn.
func (s *Settings) EncodingSettings(ctx context.Context) (EncodingSettings, error) {
	var es EncodingSettings
	var err error
	if es.Scale4KTo1080p, err = s.GetBool(ctx, KeyScale4KTo1080p); err != nil {
		return es, err
	}
	if es.BitrateFactor, err = s.GetFloat(ctx, KeyBitrateFactor); err != nil {
		return es, err
	}
	if es.BitrateCap1080p, err = s.GetFloat(ctx, KeyBitrateCap1080p); err != nil {
		return es, err
	}
	if es.CRFFallback, err = s.GetInt(ctx, KeyCRFFallback); err != nil {
		return es, err
	}
	if es.MaxBitrateFallback, err = s.GetFloat(ctx, KeyMaxBitrateFallback); err != nil {
		return es, err
	}
	if es.BufSizeFallback, err = s.GetFloat(ctx, KeyBufSizeFallback); err != nil {
		return es, err
	}
	if es.NVENCPreset, err = s.GetString(ctx, KeyNVENCPreset); err != nil {
		return es, err
	}
	if es.BitrateCap720p, err = s.GetFloat(ctx, KeyBitrateCap720p); err != nil {
		return es, err
	}
	if es.BitrateCapOther, err = s.GetFloat(ctx, KeyBitrateCapOther); err != nil {
		return es, err
	}
	return es, nil
}

// MinFileSizeMB resolves the discovery size floor.
func (s *Settings) MinFileSizeMB(ctx context.Context) (int, error) {
	return s.GetInt(ctx, KeyMinFileSizeMB)
}

// QueueOrdering resolves the file-sort and library-priority controls,
// falling back to alphabetical/alphabetical_asc when unset.
func (s *Settings) QueueOrdering(ctx context.Context) (store.FileSort, store.LibraryPriority, error) {
	sortVal, err := s.Get(ctx, KeyFileSort)
	if err != nil {
		return "", "", err
	}
	if sortVal == "" {
		sortVal = string(store.SortAlphabetical)
	}
	priorityVal, err := s.Get(ctx, KeyLibraryPriority)
	if err != nil {
		return "", "", err
	}
	if priorityVal == "" {
		priorityVal = string(store.PriorityAlphaAsc)
	}
	return store.FileSort(sortVal), store.LibraryPriority(priorityVal), nil
}

// SetQueueOrdering validates and persists the file-sort/library-priority pair.
func (s *Settings) SetQueueOrdering(ctx context.Context, sort store.FileSort, priority store.LibraryPriority) error {
	switch sort {
	case store.SortBitrateDesc, store.SortBitrateAsc, store.SortAlphabetical, store.SortRandom:
	default:
		return apperr.New(apperr.Validation, fmt.Sprintf("unknown file sort %q", sort))
	}
	switch priority {
	case store.PriorityAlphaAsc, store.PriorityAlphaDesc, store.PriorityRoundRobin:
	default:
		return apperr.New(apperr.Validation, fmt.Sprintf("unknown library priority %q", priority))
	}
	if err := s.store.SetSetting(ctx, KeyFileSort, string(sort)); err != nil {
		return err
	}
	return s.store.SetSetting(ctx, KeyLibraryPriority, string(priority))
}
