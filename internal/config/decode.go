package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	Config
	Stream string
	Out    string
	Errors string
}

// LoadDecode loads the document and resolves the decode command's stream,
// which must declare an ABI.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, Stream, error) {
	cfg, err := Load(cfgFile, flags)
	if err != nil {
		return DecodeConfig{}, Stream{}, err
	}

	out := DecodeConfig{Config: cfg}
	if flags != nil {
		out.Stream, _ = flags.GetString("stream")
		out.Out, _ = flags.GetString("out")
		out.Errors, _ = flags.GetString("errors")
	}
	if out.Out == "" {
		out.Out = "./data/decoded_events.jsonl"
	}
	if out.Errors == "" {
		out.Errors = "./data/decode_errors.jsonl"
	}

	idx, ok := cfg.Indexer(out.Stream)
	if !ok {
		return DecodeConfig{}, Stream{}, invalid("unknown stream %q", out.Stream)
	}
	stream, err := idx.Resolve()
	if err != nil {
		return DecodeConfig{}, Stream{}, err
	}
	if stream.Layout == nil {
		return DecodeConfig{}, Stream{}, fmt.Errorf("%w: stream %q has no abi", ErrConfigInvalid, out.Stream)
	}
	return out, stream, nil
}
