package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"sparkify/internal/logging"
	"sparkify/pkg/errors"
)

// S3ReadOnlyPolicyARN is attached to the cluster role so COPY can read S3.
const S3ReadOnlyPolicyARN = "arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess"

const (
	clusterAvailable = "available"
	singleNode       = "single-node"
)

// RedshiftPlan describes the cluster to provision.
type RedshiftPlan struct {
	RoleName            string
	ClusterIdentifier   string
	ClusterType         string
	NodeType            string
	NumNodes            int
	DBName              string
	DBUser              string
	DBPassword          string
	DBPort              int
	StatusCheckAttempts int
	StatusCheckDelay    time.Duration
}

// Provisioned holds the values written back to the config file.
type Provisioned struct {
	RoleARN string
	Host    string
}

// RedshiftStack provisions the IAM role, cluster and ingress rule.
type RedshiftStack struct {
	iam      IAMAPI
	redshift RedshiftAPI
	ec2      EC2API
	log      logrus.FieldLogger

	// OnStatus, when set, receives the cluster status seen by each poll.
	OnStatus func(status string)
}

// NewRedshiftStack returns a stack over the given clients.
func NewRedshiftStack(iamClient IAMAPI, redshiftClient RedshiftAPI, ec2Client EC2API, log logrus.FieldLogger) *RedshiftStack {
	return &RedshiftStack{
		iam:      iamClient,
		redshift: redshiftClient,
		ec2:      ec2Client,
		log:      logging.OrDiscard(log),
	}
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Action    string            `json:"Action"`
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
}

// assumeRolePolicy lets the Redshift service assume the role.
func assumeRolePolicy() (string, error) {
	doc, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Action:    "sts:AssumeRole",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "redshift.amazonaws.com"},
		}},
	})
	return string(doc), err
}

// Create provisions the stack and returns the role ARN and cluster host.
func (s *RedshiftStack) Create(ctx context.Context, plan RedshiftPlan) (*Provisioned, error) {
	roleARN, err := s.ensureRole(ctx, plan.RoleName)
	if err != nil {
		return nil, err
	}

	if err := s.createCluster(ctx, plan, roleARN); err != nil {
		return nil, err
	}

	cluster, err := s.waitAvailable(ctx, plan)
	if err != nil {
		return nil, err
	}

	if err := s.openPort(ctx, aws.ToString(cluster.VpcId), plan.DBPort); err != nil {
		return nil, err
	}

	host := ""
	if cluster.Endpoint != nil {
		host = aws.ToString(cluster.Endpoint.Address)
	}
	return &Provisioned{RoleARN: roleARN, Host: host}, nil
}

func (s *RedshiftStack) ensureRole(ctx context.Context, roleName string) (string, error) {
	log := s.log.WithField("role", roleName)

	policy, err := assumeRolePolicy()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode assume role policy")
	}

	log.Infof("Creating Redshift IAM role %s", roleName)
	_, err = s.iam.CreateRole(ctx, &iam.CreateRoleInput{
		Path:                     aws.String("/"),
		RoleName:                 aws.String(roleName),
		Description:              aws.String("Allow Redshift AWS service access."),
		AssumeRolePolicyDocument: aws.String(policy),
	})
	if err != nil {
		if !hasCode(err, codeEntityAlreadyExists) {
			return "", cloudError("Failed to create IAM role", roleName, err)
		}
		log.Infof("Redshift IAM role %s already exists", roleName)
	}

	log.Info("Attaching S3 read only policy")
	if _, err := s.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(S3ReadOnlyPolicyARN),
	}); err != nil {
		return "", cloudError("Failed to attach S3 policy", roleName, err)
	}

	out, err := s.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return "", cloudError("Failed to read IAM role", roleName, err)
	}
	if out.Role == nil || out.Role.Arn == nil {
		return "", errors.New(errors.ErrCodeCloudNotFound, fmt.Sprintf("IAM role %s has no ARN", roleName))
	}
	return aws.ToString(out.Role.Arn), nil
}

func (s *RedshiftStack) createCluster(ctx context.Context, plan RedshiftPlan, roleARN string) error {
	log := s.log.WithField("cluster", plan.ClusterIdentifier)
	log.Infof("Creating Redshift cluster %s with database %s", plan.ClusterIdentifier, plan.DBName)

	input := &redshift.CreateClusterInput{
		ClusterIdentifier:  aws.String(plan.ClusterIdentifier),
		ClusterType:        aws.String(plan.ClusterType),
		NodeType:           aws.String(plan.NodeType),
		DBName:             aws.String(plan.DBName),
		MasterUsername:     aws.String(plan.DBUser),
		MasterUserPassword: aws.String(plan.DBPassword),
		Port:               aws.Int32(int32(plan.DBPort)),
		IamRoles:           []string{roleARN},
	}
	// single-node clusters reject NumberOfNodes
	if plan.ClusterType != singleNode {
		input.NumberOfNodes = aws.Int32(int32(plan.NumNodes))
	}

	if _, err := s.redshift.CreateCluster(ctx, input); err != nil {
		if !hasCode(err, codeClusterAlreadyExists) {
			return cloudError("Failed to create Redshift cluster", plan.ClusterIdentifier, err)
		}
		log.Infof("Redshift cluster %s already exists", plan.ClusterIdentifier)
	}
	return nil
}

// waitAvailable polls until the cluster reports available.
func (s *RedshiftStack) waitAvailable(ctx context.Context, plan RedshiftPlan) (*redshifttypes.Cluster, error) {
	var cluster *redshifttypes.Cluster
	attempt := 0

	err := errors.Poll(ctx, errors.PollConfig(plan.StatusCheckAttempts, plan.StatusCheckDelay), func(ctx context.Context) error {
		s.log.WithField("attempt", attempt).
			Infof("Checking cluster availability. Attempt %d/%d", attempt, plan.StatusCheckAttempts-1)
		attempt++

		out, err := s.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{
			ClusterIdentifier: aws.String(plan.ClusterIdentifier),
		})
		if err != nil {
			return cloudError("Failed to describe Redshift cluster", plan.ClusterIdentifier, err)
		}
		if len(out.Clusters) == 0 {
			return errors.NotReady(plan.ClusterIdentifier, "not listed")
		}

		status := aws.ToString(out.Clusters[0].ClusterStatus)
		s.reportStatus(plan.ClusterIdentifier, status)
		if status != clusterAvailable {
			return errors.NotReady(plan.ClusterIdentifier, status)
		}
		cluster = &out.Clusters[0]
		return nil
	})
	if err != nil {
		if errors.GetErrorCode(err) == errors.ErrCodeMaxRetriesExceeded {
			return nil, errors.Wrap(err, errors.ErrCodeCloudNotReady, "Cluster availability check max attempts exceeded").
				WithSuggestions("Re-run 'sparkify infra create' once the cluster is available")
		}
		return nil, err
	}

	s.log.WithField("cluster", plan.ClusterIdentifier).Infof("Redshift cluster %s is available", plan.ClusterIdentifier)
	return cluster, nil
}

func (s *RedshiftStack) reportStatus(cluster, status string) {
	if s.OnStatus != nil {
		s.OnStatus(fmt.Sprintf("Cluster %s is %s", cluster, status))
	}
}

// openPort allows TCP traffic to the database port on the VPC default
// security group.
func (s *RedshiftStack) openPort(ctx context.Context, vpcID string, port int) error {
	log := s.log.WithFields(logrus.Fields{"vpc": vpcID, "port": port})
	log.Infof("Opening Redshift cluster TCP port %d for external access", port)

	groups, err := s.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{"default"}},
		},
	})
	if err != nil {
		return cloudError("Failed to describe security groups", vpcID, err)
	}
	if len(groups.SecurityGroups) == 0 {
		return errors.New(errors.ErrCodeCloudNotFound, fmt.Sprintf("No default security group in VPC %s", vpcID))
	}

	group := groups.SecurityGroups[0]
	_, err = s.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: group.GroupId,
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(port)),
			ToPort:     aws.Int32(int32(port)),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
	})
	if err != nil {
		if !hasCode(err, codeDuplicatePermission) {
			return cloudError("Failed to open database port", aws.ToString(group.GroupId), err)
		}
		log.Infof("Redshift cluster TCP port %d is already open", port)
	}
	return nil
}

// Delete removes the cluster without a final snapshot, waits for it to
// disappear, then removes the role.
func (s *RedshiftStack) Delete(ctx context.Context, plan RedshiftPlan) error {
	log := s.log.WithField("cluster", plan.ClusterIdentifier)
	log.Infof("Deleting Redshift cluster %s", plan.ClusterIdentifier)

	_, err := s.redshift.DeleteCluster(ctx, &redshift.DeleteClusterInput{
		ClusterIdentifier:        aws.String(plan.ClusterIdentifier),
		SkipFinalClusterSnapshot: aws.Bool(true),
	})
	if err != nil {
		if !hasCode(err, codeClusterNotFound) {
			return cloudError("Failed to delete Redshift cluster", plan.ClusterIdentifier, err)
		}
		log.Infof("Redshift cluster %s does not exist", plan.ClusterIdentifier)
	}

	if err := s.waitDeleted(ctx, plan); err != nil {
		return err
	}

	return s.deleteRole(ctx, plan.RoleName)
}

func (s *RedshiftStack) waitDeleted(ctx context.Context, plan RedshiftPlan) error {
	attempt := 0
	err := errors.Poll(ctx, errors.PollConfig(plan.StatusCheckAttempts, plan.StatusCheckDelay), func(ctx context.Context) error {
		s.log.WithField("attempt", attempt).
			Infof("Checking cluster deletion. Attempt %d/%d", attempt, plan.StatusCheckAttempts-1)
		attempt++

		out, err := s.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{
			ClusterIdentifier: aws.String(plan.ClusterIdentifier),
		})
		if err != nil {
			if hasCode(err, codeClusterNotFound) {
				return nil
			}
			return cloudError("Failed to describe Redshift cluster", plan.ClusterIdentifier, err)
		}
		if len(out.Clusters) == 0 {
			return nil
		}
		status := aws.ToString(out.Clusters[0].ClusterStatus)
		s.reportStatus(plan.ClusterIdentifier, status)
		return errors.NotReady(plan.ClusterIdentifier, status)
	})
	if err != nil {
		if errors.GetErrorCode(err) == errors.ErrCodeMaxRetriesExceeded {
			return errors.Wrap(err, errors.ErrCodeCloudNotReady, "Cluster deletion check max attempts exceeded").
				WithSuggestions("Re-run 'sparkify infra delete' once the cluster is gone")
		}
		return err
	}

	s.log.WithField("cluster", plan.ClusterIdentifier).
		Infof("Redshift cluster %s has been deleted", plan.ClusterIdentifier)
	return nil
}

func (s *RedshiftStack) deleteRole(ctx context.Context, roleName string) error {
	log := s.log.WithField("role", roleName)

	log.Infof("Detaching S3 policy from IAM role %s", roleName)
	if _, err := s.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(S3ReadOnlyPolicyARN),
	}); err != nil {
		if !hasCode(err, codeNoSuchEntity) {
			return cloudError("Failed to detach S3 policy", roleName, err)
		}
		log.Infof("S3 policy for IAM role %s does not exist", roleName)
	}

	log.Infof("Deleting IAM role %s", roleName)
	if _, err := s.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)}); err != nil {
		if !hasCode(err, codeNoSuchEntity) {
			return cloudError("Failed to delete IAM role", roleName, err)
		}
		log.Infof("Redshift IAM role %s does not exist", roleName)
	}
	return nil
}
