package minio

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

type ClientTestSuite struct {
	suite.Suite
	api    *MockMinIOAPI
	client *MinIOClient
}

func (s *ClientTestSuite) SetupTest() {
	s.api = new(MockMinIOAPI)
	s.client = newMinIOClient(s.api, &MinIOConfig{Bucket: "mmp", Prefix: "runs", RetentionDays: 30}, nil)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) TestApplyDefaults() {
	cfg := &MinIOConfig{Prefix: "archive"}
	applyDefaults(cfg)

	s.Equal("us-east-1", cfg.Region)
	s.Equal(int64(16*1024*1024), cfg.PartSize)
	s.Equal(time.Hour, cfg.PresignExpiry)
	s.Equal("archive/", cfg.Prefix)
}

func (s *ClientTestSuite) TestMinIOConfigFrom() {
	cfg := MinIOConfigFrom(config.MinIOConfig{
		Endpoint:      "minio:9000",
		BucketName:    "mmp-runs",
		Prefix:        "runs/",
		RetentionDays: 14,
	})
	s.Equal("minio:9000", cfg.Endpoint)
	s.Equal("mmp-runs", cfg.Bucket)
	s.Equal(14, cfg.RetentionDays)
}

func (s *ClientTestSuite) TestNewMinIOClient_RequiresBucket() {
	_, err := NewMinIOClient(&MinIOConfig{Endpoint: "localhost:9000"}, nil)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))
}

func (s *ClientTestSuite) TestEnsureBucket_Creates() {
	s.api.On("BucketExists", mock.Anything, "mmp").Return(false, nil)
	s.api.On("MakeBucket", mock.Anything, "mmp", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)

	s.Require().NoError(s.client.EnsureBucket(context.Background()))
	s.api.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestEnsureBucket_Exists() {
	s.api.On("BucketExists", mock.Anything, "mmp").Return(true, nil)

	s.Require().NoError(s.client.EnsureBucket(context.Background()))
	s.api.AssertNotCalled(s.T(), "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ClientTestSuite) TestEnsureBucket_Error() {
	s.api.On("BucketExists", mock.Anything, "mmp").Return(false, errors.New("denied"))
	err := s.client.EnsureBucket(context.Background())
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageError))
}

func (s *ClientTestSuite) TestSetupLifecycleRules() {
	var got *lifecycle.Configuration
	s.api.On("SetBucketLifecycle", mock.Anything, "mmp", mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(2).(*lifecycle.Configuration)
	}).Return(nil)

	s.Require().NoError(s.client.SetupLifecycleRules(context.Background()))
	s.Require().Len(got.Rules, 1)
	s.Equal("runs/", got.Rules[0].RuleFilter.Prefix)
	s.Equal(lifecycle.ExpirationDays(30), got.Rules[0].Expiration.Days)
}

func (s *ClientTestSuite) TestSetupLifecycleRules_DisabledAndTolerant() {
	c := newMinIOClient(s.api, &MinIOConfig{Bucket: "mmp"}, nil)
	s.Require().NoError(c.SetupLifecycleRules(context.Background()))
	s.api.AssertNotCalled(s.T(), "SetBucketLifecycle", mock.Anything, mock.Anything, mock.Anything)

	s.api.On("SetBucketLifecycle", mock.Anything, "mmp", mock.Anything).Return(errors.New("not implemented"))
	s.NoError(s.client.SetupLifecycleRules(context.Background()))
}

func (s *ClientTestSuite) TestHealthCheck() {
	s.api.On("BucketExists", mock.Anything, "mmp").Return(true, nil).Once()
	status, err := s.client.HealthCheck(context.Background())
	s.Require().NoError(err)
	s.True(status.Healthy)

	s.api.On("BucketExists", mock.Anything, "mmp").Return(false, nil).Once()
	status, err = s.client.HealthCheck(context.Background())
	s.True(pkgerrors.IsNotFound(err))
	s.False(status.Healthy)
	s.Contains(status.Error, "missing")
}

func (s *ClientTestSuite) TestGeneratePresignedGetURL_DefaultExpiry() {
	u, _ := url.Parse("https://minio/mmp/runs/x?sig=1")
	s.api.On("PresignedGetObject", mock.Anything, "mmp", "runs/x", time.Hour, url.Values(nil)).Return(u, nil)

	got, err := s.client.GeneratePresignedGetURL(context.Background(), "runs/x", 0)
	s.Require().NoError(err)
	s.Equal(u.String(), got)
}

func (s *ClientTestSuite) TestClose() {
	s.Require().NoError(s.client.Close())
	s.Equal(ErrMinIOClientClosed, s.client.checkOpen())
}
