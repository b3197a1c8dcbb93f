package diffupload

import (
	"context"
	"fmt"
	"sync"

	"github.com/growfile/diffupload/diffupload/network"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	}
	return ""
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeObject struct {
	content []byte
	tags    map[string]string
}

type fakeUpload struct {
	key     string
	parts   map[int32][]byte
	aborted bool
}

// fakeObjectStorage is an in-memory ObjectStorage used to exercise the
// planner/orchestrator pipeline without a backend.
type fakeObjectStorage struct {
	mu       sync.Mutex
	objects  map[string]*fakeObject
	uploads  map[string]*fakeUpload
	uploadID int

	createCalls   int
	copyCalls     int
	partCalls     int
	completeCalls int
	abortCalls    int

	partErr     error
	copyErr     error
	completeErr error
	abortErr    error
	tagErr      error
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{
		objects: map[string]*fakeObject{},
		uploads: map[string]*fakeUpload{},
	}
}

func (s *fakeObjectStorage) HeadObject(ctx context.Context, key string) (network.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return network.ObjectInfo{}, network.ErrObjectNotFound
	}
	tags := map[string]string{}
	for k, v := range obj.tags {
		tags[k] = v
	}
	return network.ObjectInfo{Size: int64(len(obj.content)), Tags: tags}, nil
}

func (s *fakeObjectStorage) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, network.ErrObjectNotFound
	}
	if start < 0 || end > int64(len(obj.content)) || start > end {
		return nil, fmt.Errorf("invalid range [%d, %d) for object of %d bytes", start, end, len(obj.content))
	}
	return append([]byte{}, obj.content[start:end]...), nil
}

func (s *fakeObjectStorage) CreateMultipartUpload(ctx context.Context, key string) (network.MultipartUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.uploadID++
	id := fmt.Sprintf("upload-%d", s.uploadID)
	s.uploads[id] = &fakeUpload{key: key, parts: map[int32][]byte{}}
	return network.MultipartUpload{UploadID: id, Key: key}, nil
}

func (s *fakeObjectStorage) UploadPartCopy(ctx context.Context, upload network.MultipartUpload, partNumber int32, sourceKey string, start, end int64) (network.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyCalls++
	if s.copyErr != nil {
		return network.Part{}, s.copyErr
	}
	src, ok := s.objects[sourceKey]
	if !ok {
		return network.Part{}, network.ErrObjectNotFound
	}
	if end > int64(len(src.content)) {
		return network.Part{}, fmt.Errorf("copy range [%d, %d) exceeds source size %d", start, end, len(src.content))
	}
	session, ok := s.uploads[upload.UploadID]
	if !ok {
		return network.Part{}, fmt.Errorf("unknown upload %s", upload.UploadID)
	}
	session.parts[partNumber] = append([]byte{}, src.content[start:end]...)
	return network.Part{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (s *fakeObjectStorage) UploadPart(ctx context.Context, upload network.MultipartUpload, partNumber int32, body []byte) (network.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partCalls++
	if s.partErr != nil {
		return network.Part{}, s.partErr
	}
	session, ok := s.uploads[upload.UploadID]
	if !ok {
		return network.Part{}, fmt.Errorf("unknown upload %s", upload.UploadID)
	}
	session.parts[partNumber] = append([]byte{}, body...)
	return network.Part{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (s *fakeObjectStorage) CompleteMultipartUpload(ctx context.Context, upload network.MultipartUpload, parts []network.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	if s.completeErr != nil {
		return s.completeErr
	}
	session, ok := s.uploads[upload.UploadID]
	if !ok {
		return fmt.Errorf("unknown upload %s", upload.UploadID)
	}

	var content []byte
	previous := int32(0)
	for _, part := range parts {
		if part.PartNumber <= previous {
			return fmt.Errorf("parts are not in strictly increasing order: %d after %d", part.PartNumber, previous)
		}
		body, ok := session.parts[part.PartNumber]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", part.PartNumber)
		}
		content = append(content, body...)
		previous = part.PartNumber
	}

	// Completing replaces the destination object; tags don't carry over.
	s.objects[upload.Key] = &fakeObject{content: content, tags: map[string]string{}}
	delete(s.uploads, upload.UploadID)
	return nil
}

func (s *fakeObjectStorage) AbortMultipartUpload(ctx context.Context, upload network.MultipartUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortCalls++
	if s.abortErr != nil {
		return s.abortErr
	}
	session, ok := s.uploads[upload.UploadID]
	if !ok {
		return fmt.Errorf("unknown upload %s", upload.UploadID)
	}
	session.aborted = true
	delete(s.uploads, upload.UploadID)
	return nil
}

func (s *fakeObjectStorage) PutObjectTag(ctx context.Context, key string, tagKey, tagValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagErr != nil {
		return s.tagErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return network.ErrObjectNotFound
	}
	obj.tags = map[string]string{tagKey: tagValue}
	return nil
}

func (s *fakeObjectStorage) setObject(key string, content []byte, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tags == nil {
		tags = map[string]string{}
	}
	s.objects[key] = &fakeObject{content: content, tags: tags}
}

func (s *fakeObjectStorage) objectContent(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil
	}
	return append([]byte{}, obj.content...)
}

func (s *fakeObjectStorage) objectTag(key, tagKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return ""
	}
	return obj.tags[tagKey]
}

func (s *fakeObjectStorage) pendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}
