package main

import (
	"strings"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/bezelkit/BezelAgent/internal/env"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// datasetPaths resolves the two output paths from flags, environment and
// defaults, in that order.
func datasetPaths() bezelagent.DatasetPaths {
	return bezelagent.DatasetPaths{
		Full:     firstNonEmpty(rootFile, env.String(bezelagent.EnvDatasetFile, ""), bezelagent.DefaultDatasetFile),
		Minified: firstNonEmpty(rootMinFile, env.String(bezelagent.EnvMinifiedFile, ""), bezelagent.DefaultMinifiedFile),
	}
}
