// Package awsclient narrows the AWS SDK S3 client down to two object
// operations, PutObject and GetObject (the report store uses PutObject), the
// same way the rest of the engine wraps narrow interfaces around wide SDK
// clients for testability.
package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the S3 surface reportstore needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ S3Client = (*s3.Client)(nil)
