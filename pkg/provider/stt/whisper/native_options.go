package whisper

import "errors"

// nativeSampleRate is the only rate whisper.cpp models accept.
const nativeSampleRate = 16000

// ErrNativeUnavailable is returned by [NewNative] in binaries built without
// the whispercpp build tag.
var ErrNativeUnavailable = errors.New("whisper: native transcription not compiled in (build with -tags whispercpp)")

type nativeConfig struct {
	language string
	threads  int
}

// NativeOption configures a [NativeTranscriber].
type NativeOption func(*nativeConfig)

// WithNativeLanguage sets the spoken language, or "auto". Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(c *nativeConfig) { c.language = lang }
}

// WithNativeThreads sets the inference thread count. Zero keeps the
// library default.
func WithNativeThreads(n int) NativeOption {
	return func(c *nativeConfig) { c.threads = n }
}

func newNativeConfig(opts []NativeOption) nativeConfig {
	c := nativeConfig{language: defaultLanguage}
	for _, o := range opts {
		o(&c)
	}
	return c
}
