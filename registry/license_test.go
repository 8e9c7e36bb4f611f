package registry_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/distributed-checkpointer/registry"
)

var _ = Describe("License discovery", func() {
	writeFiles := func(dir string, names ...string) {
		for _, name := range names {
			Expect(os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644)).To(BeNil())
		}
	}

	It("Will find a license file regardless of extension", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "config.json", "LICENSE.txt", "model.safetensors")

		Expect(registry.LicenseFilename(dir)).To(Equal("LICENSE.txt"))
	})

	It("Will find a bare license file with no extension", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "config.json", "LICENSE")

		Expect(registry.LicenseFilename(dir)).To(Equal("LICENSE"))
	})

	It("Will match case-insensitively", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "license.md")

		Expect(registry.LicenseFilename(dir)).To(Equal("license.md"))
	})

	It("Will not mistake other files for a license", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "README.md", "config.json", "tokenizer.json")

		Expect(registry.LicenseFilename(dir)).To(Equal(""))
	})

	It("Will regenerate the license from the canonical pretrained name", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "LICENSE.txt")

		found, err := registry.MaybeLicenseFilename(dir, "org/source-model")
		Expect(err).To(BeNil())
		Expect(found).To(Equal("LICENSE.txt"))

		contents, err := os.ReadFile(filepath.Join(dir, found))
		Expect(err).To(BeNil())
		Expect(string(contents)).To(ContainSubstring("org/source-model"))
	})

	It("Will report nothing when no license file was saved", func() {
		dir := GinkgoT().TempDir()
		writeFiles(dir, "config.json")

		found, err := registry.MaybeLicenseFilename(dir, "org/source-model")
		Expect(err).To(BeNil())
		Expect(found).To(Equal(""))
	})
})

var _ = Describe("LoggingConfig", func() {
	It("Will default the task and synthesize a prompt example", func() {
		cfg := &registry.LoggingConfig{}
		cfg.ApplyDefaults()

		Expect(cfg.Task).To(Equal(registry.DefaultTask))
		Expect(cfg.InputExample).To(HaveKey("prompt"))
	})

	It("Will synthesize a chat example when the task names a chat model", func() {
		cfg := &registry.LoggingConfig{Task: "llm/v1/chat"}
		cfg.ApplyDefaults()

		Expect(cfg.InputExample).To(HaveKey("messages"))
	})

	It("Will detect a chat task from the metadata as well", func() {
		cfg := &registry.LoggingConfig{
			Metadata: map[string]interface{}{"task": "llm/v1/chat"},
		}
		cfg.ApplyDefaults()

		Expect(cfg.InputExample).To(HaveKey("messages"))
	})

	It("Will surface the configured pretrained model name", func() {
		cfg := &registry.LoggingConfig{
			Metadata: map[string]interface{}{"pretrained_model_name": "org/base"},
		}
		cfg.ApplyDefaults()

		Expect(cfg.PretrainedModelName()).To(Equal("org/base"))
	})
})
