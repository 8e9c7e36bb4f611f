package storage_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/scusemua/distributed-checkpointer/storage"
)

var _ = Describe("ParseURI", func() {
	It("Will split remote URIs into backend, bucket, and path", func() {
		backend, bucket, path := storage.ParseURI("s3://my-bucket/checkpoints/huggingface/ba500")
		Expect(backend).To(Equal("s3"))
		Expect(bucket).To(Equal("my-bucket"))
		Expect(path).To(Equal("checkpoints/huggingface/ba500"))

		backend, bucket, path = storage.ParseURI("redis://localhost:6379/checkpoints")
		Expect(backend).To(Equal("redis"))
		Expect(bucket).To(Equal("localhost:6379"))
		Expect(path).To(Equal("checkpoints"))

		backend, bucket, path = storage.ParseURI("hdfs://namenode:9000/user/jovyan/ckpt")
		Expect(backend).To(Equal("hdfs"))
		Expect(bucket).To(Equal("namenode:9000"))
		Expect(path).To(Equal("user/jovyan/ckpt"))
	})

	It("Will treat an unprefixed destination as a local path", func() {
		backend, bucket, path := storage.ParseURI("/tmp/checkpoints")
		Expect(backend).To(Equal(""))
		Expect(bucket).To(Equal(""))
		Expect(path).To(Equal("/tmp/checkpoints"))
	})

	It("Will return no provider for a local destination", func() {
		provider, err := storage.NewProviderForURI("/tmp/checkpoints")
		Expect(err).To(BeNil())
		Expect(provider).To(BeNil())
	})
})

var _ = Describe("LocalProvider", func() {
	var (
		rootDir  string
		sourceDir string
		provider *storage.LocalProvider
	)

	BeforeEach(func() {
		rootDir = GinkgoT().TempDir()
		sourceDir = GinkgoT().TempDir()

		provider = storage.NewLocalProvider(rootDir)
		Expect(provider.Connect()).To(BeNil())
	})

	writeFile := func(name string, contents string) string {
		path := filepath.Join(sourceDir, name)
		Expect(os.WriteFile(path, []byte(contents), 0o644)).To(BeNil())
		return path
	}

	It("Will copy a file under the provider's root", func() {
		localPath := writeFile("config.json", `{"model_type":"mpt"}`)

		Expect(provider.UploadFile(context.Background(), localPath, "ba500/config.json", true)).To(BeNil())

		copied, err := os.ReadFile(filepath.Join(rootDir, "ba500", "config.json"))
		Expect(err).To(BeNil())
		Expect(string(copied)).To(Equal(`{"model_type":"mpt"}`))
	})

	It("Will refuse to clobber an existing file unless overwrite is set", func() {
		localPath := writeFile("weights.bin", "v1")

		Expect(provider.UploadFile(context.Background(), localPath, "ba500/weights.bin", false)).To(BeNil())

		localPath = writeFile("weights.bin", "v2")
		err := provider.UploadFile(context.Background(), localPath, "ba500/weights.bin", false)
		Expect(errors.Is(err, storage.ErrFileExists)).To(BeTrue())

		Expect(provider.UploadFile(context.Background(), localPath, "ba500/weights.bin", true)).To(BeNil())

		copied, err := os.ReadFile(filepath.Join(rootDir, "ba500", "weights.bin"))
		Expect(err).To(BeNil())
		Expect(string(copied)).To(Equal("v2"))
	})
})

var _ = Describe("Uploader", func() {
	It("Will upload every file in a directory under the remote prefix", func() {
		rootDir := GinkgoT().TempDir()
		checkpointDir := GinkgoT().TempDir()

		for _, name := range []string{"config.json", "model.safetensors", "tokenizer.json"} {
			Expect(os.WriteFile(filepath.Join(checkpointDir, name), []byte(name), 0o644)).To(BeNil())
		}

		uploader := storage.NewUploader(storage.NewLocalProvider(rootDir), nil)
		Expect(uploader.Init()).To(BeNil())
		defer func() { _ = uploader.Close() }()

		Expect(uploader.UploadDir(context.Background(), checkpointDir, "huggingface/ba100", true)).To(BeNil())

		for _, name := range []string{"config.json", "model.safetensors", "tokenizer.json"} {
			copied, err := os.ReadFile(filepath.Join(rootDir, "huggingface", "ba100", name))
			Expect(err).To(BeNil())
			Expect(string(copied)).To(Equal(name))
		}
	})
})
