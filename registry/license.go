package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

var licenseFilePattern = regexp.MustCompile(`(?i)license(\.[a-z]+|$)`)

// LicenseFilename returns the name of the first file in localDir matching the
// case-insensitive "license" pattern (bare or with any extension), or "" when
// no such file exists.
func LicenseFilename(localDir string) string {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if licenseFilePattern.MatchString(entry.Name()) {
			return entry.Name()
		}
	}
	return ""
}

// MaybeLicenseFilename locates the license file saved with a model. When a
// canonical pretrained-model name is provided, the file is regenerated from
// that identity rather than whatever was inferred from the local path, since
// local model files carry no usable provenance.
func MaybeLicenseFilename(localDir string, pretrainedModelName string) (string, error) {
	licenseFilename := LicenseFilename(localDir)
	if licenseFilename == "" {
		return "", nil
	}

	if pretrainedModelName != "" {
		logger, _ := zap.NewDevelopment()
		logger.Info("Overwriting license file with license info for the configured pretrained model.",
			zap.String("license_file", licenseFilename),
			zap.String("pretrained_model_name", pretrainedModelName))

		if err := os.Remove(filepath.Join(localDir, licenseFilename)); err != nil {
			return "", err
		}
		if err := WriteLicenseInformation(pretrainedModelName, localDir); err != nil {
			return "", err
		}

		licenseFilename = LicenseFilename(localDir)
	}

	return licenseFilename, nil
}

// WriteLicenseInformation writes a LICENSE.txt recording the licensing
// provenance of the named source model.
func WriteLicenseInformation(pretrainedModelName string, localDir string) error {
	contents := fmt.Sprintf(
		"This model is derived from %s and is distributed under that model's original license terms.\n"+
			"See https://huggingface.co/%s for the upstream license.\n",
		pretrainedModelName, pretrainedModelName)

	return os.WriteFile(filepath.Join(localDir, "LICENSE.txt"), []byte(contents), 0o644)
}
