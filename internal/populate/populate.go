// Package populate uploads finished transform artifacts to durable
// object storage and records the served URL in the cache index.
package populate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/camber-images/camber/internal/imagereq"
	"github.com/camber-images/camber/internal/store"
)

// ObjectPutter is the slice of the S3 client the populator needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Populator pushes artifacts to the object store with public-read
// visibility and month-long cache directives, then records the public
// URL in the index. Nothing is written to the index on upload failure,
// so the next identical request retries the whole synthesis path.
type Populator struct {
	objects   ObjectPutter
	index     *store.Store
	bucket    string
	bucketURL string

	now func() time.Time
}

func New(objects ObjectPutter, index *store.Store, bucket, bucketURL string) *Populator {
	return &Populator{
		objects:   objects,
		index:     index,
		bucket:    bucket,
		bucketURL: bucketURL,
		now:       time.Now,
	}
}

// ObjectKey is the deterministic object store key for a derivative.
func ObjectKey(key store.CacheKey) string {
	return fmt.Sprintf("%s_%dx%d.%s.%s",
		key.ID, key.Width, key.Height, key.Fit, imagereq.CanonicalExtension(key.MIME))
}

// Populate uploads the artifact and records its served URL. A Conflict
// from the index means a concurrent request populated the same key
// first; the pre-existing record is authoritative and the call still
// succeeds. Returns the served URL.
func (p *Populator) Populate(ctx context.Context, key store.CacheKey, artifact []byte) (string, error) {
	objectKey := ObjectKey(key)

	_, err := p.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(artifact),
		ACL:         s3types.ObjectCannedACLPublicRead,
		ContentType: aws.String(key.MIME),
		// Clients and shared caches may hold the derivative for a month;
		// records are immutable so staleness is not a concern.
		CacheControl: aws.String("public, max-age=2592000"),
		Expires:      aws.Time(p.now().AddDate(0, 1, 0)),
	})
	if err != nil {
		return "", fmt.Errorf("populate: uploading %s: %w", objectKey, err)
	}

	url := p.bucketURL + "/" + objectKey

	err = p.index.InsertCache(ctx, key, url)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent population of the same key. The
		// winner's record stands.
		log.Info().Str("key", objectKey).Msg("derivative already recorded")
		return url, nil
	}
	if err != nil {
		return "", fmt.Errorf("populate: recording %s: %w", objectKey, err)
	}

	log.Info().Str("key", objectKey).Str("url", url).Msg("derivative cached")
	return url, nil
}
