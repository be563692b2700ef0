package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AuditConfig holds configuration for the audit command. It embeds the
// ledger configuration so the audit opens the same store.
type AuditConfig struct {
	Config
	StateFile string
	FromSeq   uint64
}

// LoadAudit merges config file, environment variables, and flags into AuditConfig.
func LoadAudit(cfgFile string, flags *pflag.FlagSet) (AuditConfig, error) {
	base, err := Load(cfgFile, flags)
	if err != nil {
		return AuditConfig{}, err
	}

	v := viper.New()
	if err := read(v, cfgFile, flags); err != nil {
		return AuditConfig{}, err
	}

	return AuditConfig{
		Config:    base,
		StateFile: v.GetString("state-file"),
		FromSeq:   v.GetUint64("from-seq"),
	}, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (int64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseInt(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return tm.Unix(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
