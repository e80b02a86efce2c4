package avail

//utility functions for aws

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rotisserie/eris"
)

const DefaultS3ArchiveBucket = "covidwa-availability-archive"

//check if any credentials are available in the environment
func HasAWSCredentials() bool {
	awsConfig, err := LoadAWSConfig(context.Background())
	return err == nil && awsConfig.Credentials != nil && len(awsConfig.Region) > 0
}

var awsConfigMutex = &sync.Mutex{}
var loadedAWSConfig *aws.Config

func LoadAWSConfig(ctx context.Context) (*aws.Config, error) {
	awsConfigMutex.Lock()
	defer awsConfigMutex.Unlock()

	if loadedAWSConfig == nil {
		load, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "aws: load config")
		}

		loadedAWSConfig = &load
	}

	return loadedAWSConfig, nil
}

func GetAWSEncryptedParameter(ctx context.Context, name string) (string, error) {
	return GetAWSParameter(ctx, name, true)
}

//get value from parameter store (aws systems manager)
func GetAWSParameter(ctx context.Context, name string, encrypted bool) (string, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return "", err
	}

	client := ssm.NewFromConfig(*cfg)

	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: encrypted})
	if err != nil {
		return "", eris.Wrapf(err, "aws: get parameter %s", name)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", eris.Errorf("aws: parameter %s has no value", name)
	}

	return *output.Parameter.Value, nil
}

// S3Putter is the part of the S3 client used for archiving.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var s3mutex = &sync.Mutex{}
var s3client S3Putter //singleton

func getS3Client(ctx context.Context) (S3Putter, string, error) {
	s3mutex.Lock()
	defer s3mutex.Unlock()

	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, "", err
	}
	if s3client == nil {
		s3client = s3.NewFromConfig(*cfg)
	}
	return s3client, cfg.Region, nil
}

// PutS3Object uploads body and returns its URL.
func PutS3Object(ctx context.Context, bucketName string, key string, contentType string, body []byte) (string, error) {
	client, region, err := getS3Client(ctx)
	if err != nil {
		return "", err
	}
	return putS3Object(ctx, client, region, bucketName, key, contentType, body)
}

func putS3Object(ctx context.Context, client S3Putter, region string, bucketName string, key string, contentType string, body []byte) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if len(contentType) > 0 {
		input.ContentType = aws.String(contentType)
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		return "", eris.Wrapf(err, "aws: put s3://%s/%s", bucketName, key)
	}

	return fmt.Sprintf("https://%s.s3-%s.amazonaws.com/%s", bucketName, region, key), nil
}
