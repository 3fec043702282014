// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package configres

// Typed accessor views over the merged document. Defaults live here, not
// in the stored layers, so an empty document is always usable.

// ProcessingConfig drives the trim stage.
type ProcessingConfig struct {
	EnableProcessing    bool
	AudioDetection      bool
	SilenceThresholdDB  float64
	MinSilenceDuration  float64 // seconds
	PaddingBefore       float64 // seconds
	PaddingAfter        float64 // seconds
	OutputFormat        string
	VideoCodec          string
	AudioCodec          string
}

// TranscriptionConfig drives transcription, topics and subtitles.
type TranscriptionConfig struct {
	EnableTranscription bool
	Language            string
	Prompt              string
	Temperature         float64
	EnableTopics        bool
	TopicMode           string // "short" or "long"
	EnableSubtitles     bool
	SubtitleFormats     []string
	EnableTranslation   bool
	TranslationLanguage string
}

// TopicsDisplay controls how the {topics} placeholder renders.
type TopicsDisplay struct {
	Enabled           bool
	MaxCount          int
	MinLength         int
	MaxLength         int
	DisplayLocation   string
	Format            string // numbered_list, bullet_list, dash_list, comma_separated, inline
	Separator         string
	Prefix            string
	IncludeTimestamps bool
}

// MetadataConfig drives title/description rendering and sink metadata.
type MetadataConfig struct {
	TitleTemplate       string
	DescriptionTemplate string
	ThumbnailPath       string
	Tags                []string
	Category            string
	TopicsDisplay       TopicsDisplay
}

// OutputConfig names one publishing target of the effective config.
type OutputConfig struct {
	Platform string
	PresetID string
	Enabled  bool
	Metadata map[string]any // platform-level metadata overrides
}

// Processing derives the typed processing view with defaults.
func Processing(doc map[string]any) ProcessingConfig {
	m := sub(doc, "processing")
	return ProcessingConfig{
		EnableProcessing:   boolOr(m, "enable_processing", true),
		AudioDetection:     boolOr(m, "audio_detection", true),
		SilenceThresholdDB: floatOr(m, "silence_threshold_db", -40),
		MinSilenceDuration: floatOr(m, "min_silence_duration_s", 2.0),
		PaddingBefore:      floatOr(m, "padding_before_s", 5.0),
		PaddingAfter:       floatOr(m, "padding_after_s", 5.0),
		OutputFormat:       strOr(m, "output_format", "mp4"),
		VideoCodec:         strOr(m, "video_codec", "copy"),
		AudioCodec:         strOr(m, "audio_codec", "copy"),
	}
}

// Transcription derives the typed transcription view with defaults.
func Transcription(doc map[string]any) TranscriptionConfig {
	m := sub(doc, "transcription")
	return TranscriptionConfig{
		EnableTranscription: boolOr(m, "enable_transcription", true),
		Language:            strOr(m, "language", ""),
		Prompt:              strOr(m, "prompt", ""),
		Temperature:         floatOr(m, "temperature", 0),
		EnableTopics:        boolOr(m, "enable_topics", true),
		TopicMode:           strOr(m, "topic_mode", "short"),
		EnableSubtitles:     boolOr(m, "enable_subtitles", false),
		SubtitleFormats:     strSliceOr(m, "subtitle_formats", []string{"srt", "vtt"}),
		EnableTranslation:   boolOr(m, "enable_translation", false),
		TranslationLanguage: strOr(m, "translation_language", ""),
	}
}

// Metadata derives the typed metadata view with defaults.
func Metadata(doc map[string]any) MetadataConfig {
	m := sub(doc, "metadata")
	td := sub(m, "topics_display")
	return MetadataConfig{
		TitleTemplate:       strOr(m, "title_template", "{display_name}"),
		DescriptionTemplate: strOr(m, "description_template", ""),
		ThumbnailPath:       strOr(m, "thumbnail_path", ""),
		Tags:                strSliceOr(m, "tags", nil),
		Category:            strOr(m, "category", ""),
		TopicsDisplay: TopicsDisplay{
			Enabled:           boolOr(td, "enabled", true),
			MaxCount:          intOr(td, "max_count", 0),
			MinLength:         intOr(td, "min_length", 0),
			MaxLength:         intOr(td, "max_length", 0),
			DisplayLocation:   strOr(td, "display_location", "description"),
			Format:            strOr(td, "format", "numbered_list"),
			Separator:         strOr(td, "separator", "\n"),
			Prefix:            strOr(td, "prefix", ""),
			IncludeTimestamps: boolOr(td, "include_timestamps", true),
		},
	}
}

// Outputs derives the list of enabled publishing targets.
func Outputs(doc map[string]any) []OutputConfig {
	raw, ok := doc["outputs"].([]any)
	if !ok {
		return nil
	}
	var out []OutputConfig
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, OutputConfig{
			Platform: strOr(m, "platform", ""),
			PresetID: strOr(m, "preset_id", ""),
			Enabled:  boolOr(m, "enabled", true),
			Metadata: sub(m, "metadata"),
		})
	}
	return out
}

func sub(doc map[string]any, key string) map[string]any {
	if doc == nil {
		return nil
	}
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	return nil
}

func boolOr(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func strOr(m map[string]any, key string, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func floatOr(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func intOr(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func strSliceOr(m map[string]any, key string, def []string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
