package config

import (
	"net/url"
	"strconv"
	"strings"
)

// Redacted is the placeholder shown for secrets.
const Redacted = "****"

// Setting is one resolved key as shown by 'sparkify config show'.
type Setting struct {
	Section string `json:"section" yaml:"section"`
	Key     string `json:"key" yaml:"key"`
	Value   string `json:"value" yaml:"value"`
}

// Settings lists every resolved key with secrets masked. A password inside
// the local DSN is masked too.
func (c *Config) Settings() []Setting {
	secret := func(v string) string {
		if v == "" {
			return ""
		}
		return Redacted
	}
	return []Setting{
		{SectionInfrastructure, "KEY", c.Infrastructure.Key},
		{SectionInfrastructure, "SECRET", secret(c.Infrastructure.Secret)},
		{SectionInfrastructure, "REGION", c.Infrastructure.Region},
		{SectionInfrastructure, "ROLE_NAME", c.Infrastructure.RoleName},
		{SectionInfrastructure, "CLUSTER_IDENTIFIER", c.Infrastructure.ClusterIdentifier},
		{SectionInfrastructure, "CLUSTER_TYPE", c.Infrastructure.ClusterType},
		{SectionInfrastructure, "NODE_TYPE", c.Infrastructure.NodeType},
		{SectionInfrastructure, "NUM_NODES", strconv.Itoa(c.Infrastructure.NumNodes)},
		{SectionInfrastructure, "STATUS_CHECK_ATTEMPTS", strconv.Itoa(c.Infrastructure.StatusCheckAttempts)},
		{SectionInfrastructure, "STATUS_CHECK_DELAY_SEC", strconv.Itoa(int(c.Infrastructure.StatusCheckDelay.Seconds()))},
		{SectionCluster, "HOST", c.Cluster.Host},
		{SectionCluster, "DB_NAME", c.Cluster.DBName},
		{SectionCluster, "DB_USER", c.Cluster.DBUser},
		{SectionCluster, "DB_PASSWORD", secret(c.Cluster.DBPassword)},
		{SectionCluster, "DB_PORT", strconv.Itoa(c.Cluster.DBPort)},
		{SectionIAMRole, "ARN", c.IAMRole.ARN},
		{SectionS3, "LOG_DATA", c.S3.LogData},
		{SectionS3, "LOG_JSONPATH", c.S3.LogJSONPath},
		{SectionS3, "SONG_DATA", c.S3.SongData},
		{SectionS3, "OUTPUT_BUCKET_NAME", c.S3.OutputBucketName},
		{SectionEMR, "CLUSTER_NAME", c.EMR.ClusterName},
		{SectionEMR, "RELEASE_LABEL", c.EMR.ReleaseLabel},
		{SectionEMR, "INSTANCE_TYPE", c.EMR.InstanceType},
		{SectionEMR, "INSTANCE_COUNT", strconv.Itoa(c.EMR.InstanceCount)},
		{SectionLocal, "DSN", redactURL(c.Local.DSN)},
		{SectionLocal, "DATA_DIR", c.Local.DataDir},
		{SectionLake, "INPUT", c.Lake.Input},
		{SectionLake, "OUTPUT", c.Lake.Output},
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	// The placeholder goes in after encoding so it is not percent-escaped.
	// An escaped username never holds '@', so the first one ends userinfo.
	u.User = url.User(u.User.Username())
	return strings.Replace(u.String(), "@", ":"+Redacted+"@", 1)
}
