package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"sparkify/internal/common"
	"sparkify/pkg/errors"
)

// DefaultFile is the configuration file read when no path is given.
const DefaultFile = "dwh.cfg"

// Section names in the configuration file.
const (
	SectionInfrastructure = "INFRASTRUCTURE"
	SectionCluster        = "CLUSTER"
	SectionIAMRole        = "IAM_ROLE"
	SectionS3             = "S3"
	SectionEMR            = "EMR"
	SectionLocal          = "LOCAL"
	SectionLake           = "LAKE"
)

// Config is the parsed content of a dwh.cfg style INI file.
type Config struct {
	Path           string
	Infrastructure Infrastructure
	Cluster        Cluster
	IAMRole        IAMRole
	S3             S3
	EMR            EMR
	Local          Local
	Lake           Lake
}

// Infrastructure holds the AWS credentials and the Redshift provisioning plan.
type Infrastructure struct {
	Key                 string
	Secret              string
	Region              string
	RoleName            string
	ClusterIdentifier   string
	ClusterType         string
	NodeType            string
	NumNodes            int
	StatusCheckAttempts int
	StatusCheckDelay    time.Duration
}

// Cluster holds the connection settings of the Redshift database.
type Cluster struct {
	Host       string
	DBName     string
	DBUser     string
	DBPassword string
	DBPort     int
}

// URL renders the cluster settings as a redshift:// database URL.
func (c Cluster) URL() string {
	u := url.URL{
		Scheme: "redshift",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// IAMRole holds the role the cluster assumes to read from S3.
type IAMRole struct {
	ARN string
}

// S3 holds the source data locations and the lake output bucket.
type S3 struct {
	LogData          string
	LogJSONPath      string
	SongData         string
	OutputBucketName string
}

// EMR holds the data lake processing cluster plan.
type EMR struct {
	ClusterName   string
	ReleaseLabel  string
	InstanceType  string
	InstanceCount int
}

// Local holds the settings for the local PostgreSQL star schema.
type Local struct {
	DSN     string
	DataDir string
}

// Lake holds the data lake pipeline input and output locations.
type Lake struct {
	Input  string
	Output string
}

// Defaults for optional keys.
const (
	DefaultRegion              = "us-west-2"
	DefaultClusterType         = "multi-node"
	DefaultNodeType            = "dc2.large"
	DefaultNumNodes            = 4
	DefaultStatusCheckAttempts = 10
	DefaultStatusCheckDelaySec = 30
	DefaultDBPort              = 5439
	DefaultReleaseLabel        = "emr-5.34.0"
	DefaultInstanceType        = "m5.xlarge"
	DefaultInstanceCount       = 3
	DefaultLocalDataDir        = "data"
	DefaultLakeOutput          = "output"
)

// GetConfigFile returns the configuration file to read: the explicit path,
// then SPARKIFY_CONFIG, then DefaultFile.
func GetConfigFile(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("SPARKIFY_CONFIG"); env != "" {
		return env
	}
	return DefaultFile
}

// Load reads the INI file at path.
func Load(path string) (*Config, error) {
	cleaned, err := common.CleanPath(GetConfigFile(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Invalid config file path")
	}

	if _, err := os.Stat(cleaned); os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("Config file %s not found", cleaned)).
			WithContext("path", cleaned).
			WithSuggestions("Copy dwh.cfg.example to dwh.cfg and fill in the credentials")
	}

	file, err := loadFile(cleaned)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to parse config file").
			WithContext("path", cleaned)
	}

	return parse(file, cleaned)
}

// loadFile reads an INI file keeping '#' and ';' inside values, so secrets
// such as passwords survive a load and save round trip.
func loadFile(path string) (*ini.File, error) {
	return ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
}

func parse(file *ini.File, path string) (*Config, error) {
	cfg := &Config{Path: path}
	var err error

	infra := file.Section(SectionInfrastructure)
	cfg.Infrastructure = Infrastructure{
		Key:               value(infra, "KEY", ""),
		Secret:            value(infra, "SECRET", ""),
		Region:            value(infra, "REGION", DefaultRegion),
		RoleName:          value(infra, "ROLE_NAME", ""),
		ClusterIdentifier: value(infra, "CLUSTER_IDENTIFIER", ""),
		ClusterType:       value(infra, "CLUSTER_TYPE", DefaultClusterType),
		NodeType:          value(infra, "NODE_TYPE", DefaultNodeType),
	}
	if cfg.Infrastructure.NumNodes, err = intValue(infra, "NUM_NODES", DefaultNumNodes); err != nil {
		return nil, err
	}
	if cfg.Infrastructure.StatusCheckAttempts, err = intValue(infra, "STATUS_CHECK_ATTEMPTS", DefaultStatusCheckAttempts); err != nil {
		return nil, err
	}
	delay, err := intValue(infra, "STATUS_CHECK_DELAY_SEC", DefaultStatusCheckDelaySec)
	if err != nil {
		return nil, err
	}
	cfg.Infrastructure.StatusCheckDelay = time.Duration(delay) * time.Second

	cluster := file.Section(SectionCluster)
	cfg.Cluster = Cluster{
		Host:       value(cluster, "HOST", ""),
		DBName:     value(cluster, "DB_NAME", ""),
		DBUser:     value(cluster, "DB_USER", ""),
		DBPassword: value(cluster, "DB_PASSWORD", ""),
	}
	if cfg.Cluster.DBPort, err = intValue(cluster, "DB_PORT", DefaultDBPort); err != nil {
		return nil, err
	}

	cfg.IAMRole = IAMRole{ARN: value(file.Section(SectionIAMRole), "ARN", "")}

	s3 := file.Section(SectionS3)
	cfg.S3 = S3{
		LogData:          value(s3, "LOG_DATA", ""),
		LogJSONPath:      value(s3, "LOG_JSONPATH", ""),
		SongData:         value(s3, "SONG_DATA", ""),
		OutputBucketName: value(s3, "OUTPUT_BUCKET_NAME", ""),
	}

	emr := file.Section(SectionEMR)
	cfg.EMR = EMR{
		ClusterName:  value(emr, "CLUSTER_NAME", ""),
		ReleaseLabel: value(emr, "RELEASE_LABEL", DefaultReleaseLabel),
		InstanceType: value(emr, "INSTANCE_TYPE", DefaultInstanceType),
	}
	if cfg.EMR.InstanceCount, err = intValue(emr, "INSTANCE_COUNT", DefaultInstanceCount); err != nil {
		return nil, err
	}

	local := file.Section(SectionLocal)
	cfg.Local = Local{
		DSN:     value(local, "DSN", ""),
		DataDir: value(local, "DATA_DIR", DefaultLocalDataDir),
	}

	lake := file.Section(SectionLake)
	cfg.Lake = Lake{
		Input:  value(lake, "INPUT", ""),
		Output: value(lake, "OUTPUT", DefaultLakeOutput),
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func value(section *ini.Section, key, def string) string {
	v := strings.TrimSpace(section.Key(key).String())
	if v == "" {
		return def
	}
	return v
}

func intValue(section *ini.Section, key string, def int) (int, error) {
	raw := value(section, key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(section.Name()+"."+key, raw, "must be an integer")
	}
	return n, nil
}

// SaveProvisioned records the provisioned role ARN and cluster host in the
// config file, leaving every other key untouched.
func (c *Config) SaveProvisioned(roleARN, host string) error {
	file, err := loadFile(c.Path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to re-read config file").
			WithContext("path", c.Path)
	}

	file.Section(SectionIAMRole).Key("ARN").SetValue(roleARN)
	file.Section(SectionCluster).Key("HOST").SetValue(host)

	if err := file.SaveTo(c.Path); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigWrite, "Failed to write config file").
			WithContext("path", c.Path)
	}
	if err := os.Chmod(c.Path, common.FilePermissionSecure); err != nil {
		return errors.Wrap(err, errors.ErrCodeFilePermission, "Failed to restrict config file permissions")
	}

	c.IAMRole.ARN = roleARN
	c.Cluster.Host = host
	return nil
}

// RequireInfrastructure checks the keys needed to provision the Redshift stack.
func (c *Config) RequireInfrastructure() error {
	return requireFields(
		field{SectionInfrastructure, "KEY", c.Infrastructure.Key},
		field{SectionInfrastructure, "SECRET", c.Infrastructure.Secret},
		field{SectionInfrastructure, "ROLE_NAME", c.Infrastructure.RoleName},
		field{SectionInfrastructure, "CLUSTER_IDENTIFIER", c.Infrastructure.ClusterIdentifier},
		field{SectionCluster, "DB_NAME", c.Cluster.DBName},
		field{SectionCluster, "DB_USER", c.Cluster.DBUser},
		field{SectionCluster, "DB_PASSWORD", c.Cluster.DBPassword},
	)
}

// RequireCluster checks the keys needed to connect to the Redshift database.
func (c *Config) RequireCluster() error {
	return requireFields(
		field{SectionCluster, "HOST", c.Cluster.Host},
		field{SectionCluster, "DB_NAME", c.Cluster.DBName},
		field{SectionCluster, "DB_USER", c.Cluster.DBUser},
		field{SectionCluster, "DB_PASSWORD", c.Cluster.DBPassword},
	)
}

// RequireCopy checks the keys needed to copy S3 data into staging tables.
func (c *Config) RequireCopy() error {
	if err := c.RequireCluster(); err != nil {
		return err
	}
	return requireFields(
		field{SectionIAMRole, "ARN", c.IAMRole.ARN},
		field{SectionS3, "LOG_DATA", c.S3.LogData},
		field{SectionS3, "LOG_JSONPATH", c.S3.LogJSONPath},
		field{SectionS3, "SONG_DATA", c.S3.SongData},
	)
}

// RequireLakeInfrastructure checks the keys needed to provision the lake stack.
func (c *Config) RequireLakeInfrastructure() error {
	return requireFields(
		field{SectionInfrastructure, "KEY", c.Infrastructure.Key},
		field{SectionInfrastructure, "SECRET", c.Infrastructure.Secret},
		field{SectionS3, "OUTPUT_BUCKET_NAME", c.S3.OutputBucketName},
		field{SectionEMR, "CLUSTER_NAME", c.EMR.ClusterName},
	)
}

// RequireLake checks the keys needed to run the lake pipeline.
func (c *Config) RequireLake() error {
	return requireFields(
		field{SectionLake, "INPUT", c.Lake.Input},
		field{SectionLake, "OUTPUT", c.Lake.Output},
	)
}

// RequireOutputBucket checks the bucket lake output is uploaded to.
func (c *Config) RequireOutputBucket() error {
	return requireFields(field{SectionS3, "OUTPUT_BUCKET_NAME", c.S3.OutputBucketName})
}

// RequireLocal checks the keys needed to load the local database.
func (c *Config) RequireLocal() error {
	return requireFields(
		field{SectionLocal, "DSN", c.Local.DSN},
		field{SectionLocal, "DATA_DIR", c.Local.DataDir},
	)
}

type field struct {
	section string
	key     string
	value   string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			name := fmt.Sprintf("[%s] %s", f.section, f.key)
			return errors.ConfigError(fmt.Sprintf("Missing required config value %s", name), name).
				WithContext("section", f.section)
		}
	}
	return nil
}
