// Package blobhandler is the illustrative async collaborator spec.md §9
// invites explicitly: "the ORM/SQL client ... is merely an illustrative
// user of the promise primitives." Here an S3 GetObject call plays that
// role — a route handler subscribes to the returned Promise instead of
// blocking the worker's loop goroutine on network I/O.
package blobhandler

import (
	"context"
	stderrors "errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/corewave/ev80/internal/promise"
	"github.com/corewave/ev80/internal/util"
)

// Client wraps an S3 client bound to one bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New loads the default AWS config (environment, shared config file, or
// instance profile, in that order) and returns a Client for bucket.
func New(ctx context.Context, bucket string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &Client{s3: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Fetch starts a GetObject call on its own goroutine and returns a Promise
// that resolves with (body []byte, err error) once it completes. Resolving
// with an error value rather than returning one synchronously keeps the
// call non-blocking from the caller's perspective, matching how every
// other coroutine-facing result in this module flows through a Promise.
func (c *Client) Fetch(ctx context.Context, key string) *promise.Promise {
	p := promise.New()

	go func() {
		out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &c.bucket,
			Key:    &key,
		})
		if err != nil {
			p.Resolve(nil, describe(err))
			return
		}
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			p.Resolve(nil, errors.Wrap(err, "read object body"))
			return
		}
		p.Resolve(body, nil)
	}()

	return p
}

// describe unwraps a smithy-go API error into something a log line can
// show without the full SDK error chain.
func describe(err error) error {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		util.LogWarning("blobhandler: s3 error %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		return errors.Wrapf(err, "s3: %s", apiErr.ErrorCode())
	}
	return errors.Wrap(err, "s3 get object")
}
