package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"sparkify/internal/logging"
	"sparkify/pkg/errors"
)

// Default EMR roles created by `aws emr create-default-roles`.
const (
	EMRJobFlowRole = "EMR_EC2_DefaultRole"
	EMRServiceRole = "EMR_DefaultRole"
)

// regions where CreateBucket must not send a location constraint
const defaultRegion = "us-east-1"

// LakePlan describes the output bucket and Spark cluster.
type LakePlan struct {
	Region        string
	Bucket        string
	ClusterName   string
	ReleaseLabel  string
	InstanceType  string
	InstanceCount int
	// Purge empties the bucket before deleting it.
	Purge bool
}

// LakeResult reports what Create did.
type LakeResult struct {
	Bucket    string
	ClusterID string
	Existing  bool
}

// LakeStack provisions the output bucket and EMR cluster.
type LakeStack struct {
	s3  S3API
	emr EMRAPI
	log logrus.FieldLogger
}

// NewLakeStack returns a stack over the given clients.
func NewLakeStack(s3Client S3API, emrClient EMRAPI, log logrus.FieldLogger) *LakeStack {
	return &LakeStack{s3: s3Client, emr: emrClient, log: logging.OrDiscard(log)}
}

// activeStates are the EMR cluster states counted as running.
var activeStates = []emrtypes.ClusterState{
	emrtypes.ClusterStateStarting,
	emrtypes.ClusterStateBootstrapping,
	emrtypes.ClusterStateRunning,
	emrtypes.ClusterStateWaiting,
}

// Create makes the bucket and starts the cluster unless one with the same
// name is already active.
func (s *LakeStack) Create(ctx context.Context, plan LakePlan) (*LakeResult, error) {
	if err := s.createBucket(ctx, plan); err != nil {
		return nil, err
	}

	result := &LakeResult{Bucket: plan.Bucket}
	ids, err := s.activeClusters(ctx, plan.ClusterName)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.log.WithFields(logrus.Fields{"cluster": plan.ClusterName, "id": ids[0]}).
			Infof("EMR cluster %s is already active", plan.ClusterName)
		result.ClusterID = ids[0]
		result.Existing = true
		return result, nil
	}

	s.log.WithField("cluster", plan.ClusterName).
		Infof("Creating EMR cluster %s (%s, %d x %s)", plan.ClusterName, plan.ReleaseLabel, plan.InstanceCount, plan.InstanceType)
	out, err := s.emr.RunJobFlow(ctx, &emr.RunJobFlowInput{
		Name:         aws.String(plan.ClusterName),
		LogUri:       aws.String("s3://" + plan.Bucket),
		ReleaseLabel: aws.String(plan.ReleaseLabel),
		Instances: &emrtypes.JobFlowInstancesConfig{
			MasterInstanceType:          aws.String(plan.InstanceType),
			SlaveInstanceType:           aws.String(plan.InstanceType),
			InstanceCount:               aws.Int32(int32(plan.InstanceCount)),
			KeepJobFlowAliveWhenNoSteps: aws.Bool(true),
			TerminationProtected:        aws.Bool(false),
		},
		Applications:      []emrtypes.Application{{Name: aws.String("Spark")}},
		JobFlowRole:       aws.String(EMRJobFlowRole),
		ServiceRole:       aws.String(EMRServiceRole),
		VisibleToAllUsers: aws.Bool(true),
	})
	if err != nil {
		return nil, cloudError("Failed to create EMR cluster", plan.ClusterName, err).
			WithSuggestions("Run 'aws emr create-default-roles' if the default EMR roles are missing")
	}
	result.ClusterID = aws.ToString(out.JobFlowId)
	return result, nil
}

func (s *LakeStack) createBucket(ctx context.Context, plan LakePlan) error {
	log := s.log.WithField("bucket", plan.Bucket)
	log.Infof("Creating S3 bucket %s in %s", plan.Bucket, plan.Region)

	input := &s3.CreateBucketInput{
		Bucket: aws.String(plan.Bucket),
		ACL:    s3types.BucketCannedACLPrivate,
	}
	if plan.Region != "" && plan.Region != defaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(plan.Region),
		}
	}

	if _, err := s.s3.CreateBucket(ctx, input); err != nil {
		if !hasCode(err, codeBucketAlreadyOwnedByYou) {
			return cloudError("Failed to create S3 bucket", plan.Bucket, err)
		}
		log.Infof("S3 bucket %s already exists", plan.Bucket)
	}
	return nil
}

// activeClusters returns the ids of active clusters named name.
func (s *LakeStack) activeClusters(ctx context.Context, name string) ([]string, error) {
	var ids []string
	paginator := emr.NewListClustersPaginator(s.emr, &emr.ListClustersInput{ClusterStates: activeStates})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cloudError("Failed to list EMR clusters", name, err)
		}
		for _, c := range page.Clusters {
			if aws.ToString(c.Name) == name {
				ids = append(ids, aws.ToString(c.Id))
			}
		}
	}
	return ids, nil
}

// Delete terminates every active cluster with the plan's name and removes
// the bucket.
func (s *LakeStack) Delete(ctx context.Context, plan LakePlan) error {
	ids, err := s.activeClusters(ctx, plan.ClusterName)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		s.log.WithField("cluster", plan.ClusterName).Infof("No active EMR cluster named %s", plan.ClusterName)
	} else {
		s.log.WithFields(logrus.Fields{"cluster": plan.ClusterName, "ids": ids}).
			Infof("Terminating %d EMR cluster(s)", len(ids))
		if _, err := s.emr.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{JobFlowIds: ids}); err != nil {
			return cloudError("Failed to terminate EMR cluster", plan.ClusterName, err)
		}
	}

	if plan.Purge {
		if err := s.purgeBucket(ctx, plan.Bucket); err != nil {
			return err
		}
	}

	log := s.log.WithField("bucket", plan.Bucket)
	log.Infof("Deleting S3 bucket %s", plan.Bucket)
	if _, err := s.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(plan.Bucket)}); err != nil {
		if !hasCode(err, codeNoSuchBucket) {
			return cloudError("Failed to delete S3 bucket", plan.Bucket, err).
				WithSuggestions("Use --purge to empty the bucket first")
		}
		log.Infof("S3 bucket %s does not exist", plan.Bucket)
	}
	return nil
}

// purgeBucket deletes every object in bucket, one page at a time.
func (s *LakeStack) purgeBucket(ctx context.Context, bucket string) error {
	removed := 0
	paginator := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if hasCode(err, codeNoSuchBucket) {
				return nil
			}
			return cloudError("Failed to list bucket objects", bucket, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return cloudError("Failed to delete bucket objects", bucket, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errors.New(errors.ErrCodeCloudRequest,
				fmt.Sprintf("Failed to delete %d object(s) from %s: %s", len(out.Errors), bucket, aws.ToString(first.Message))).
				WithContext("key", aws.ToString(first.Key))
		}
		removed += len(objects)
	}
	s.log.WithFields(logrus.Fields{"bucket": bucket, "objects": removed}).Info("Emptied S3 bucket")
	return nil
}
