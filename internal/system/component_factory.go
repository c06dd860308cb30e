package system

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lattiam/launchpad/internal/artifact"
	"github.com/lattiam/launchpad/internal/awsutil"
	configpkg "github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/health"
	"github.com/lattiam/launchpad/internal/infra/distributed"
	"github.com/lattiam/launchpad/internal/infra/embedded"
	"github.com/lattiam/launchpad/internal/infra/sqlite"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/registry"
	"github.com/lattiam/launchpad/internal/remote"
	"github.com/lattiam/launchpad/pkg/logging"
)

var logger = logging.NewLogger("component-factory")

// ComponentFactory builds launchpad's backends from configuration. Stores
// sharing the SQLite database share one connection.
type ComponentFactory struct {
	config *configpkg.ServerConfig

	dbOnce sync.Once
	db     *sql.DB
	dbErr  error

	closers []func() error
}

// NewComponentFactory creates a factory for cfg
func NewComponentFactory(cfg *configpkg.ServerConfig) *ComponentFactory {
	return &ComponentFactory{config: cfg}
}

func (f *ComponentFactory) database() (*sql.DB, error) {
	f.dbOnce.Do(func() {
		f.db, f.dbErr = sqlite.Open(f.config.Database)
		if f.dbErr == nil {
			f.closers = append(f.closers, f.db.Close)
			logger.Info("Opened SQLite database at %s", f.config.Database)
		}
	})
	if f.dbErr != nil {
		return nil, fmt.Errorf("failed to open database: %w", f.dbErr)
	}
	return f.db, nil
}

// CreateTargetStore creates the registry backend
func (f *ComponentFactory) CreateTargetStore(ctx context.Context) (interfaces.TargetStore, error) {
	switch f.config.Registry.Type {
	case configpkg.StoreTypeMemory:
		return registry.NewMemoryStore(), nil
	case configpkg.StoreTypeSQLite:
		db, err := f.database()
		if err != nil {
			return nil, err
		}
		return &sqlite.TargetStore{DB: db}, nil
	case configpkg.StoreTypeDynamoDB:
		ddb := f.config.Registry.DynamoDB
		logger.Info("Using DynamoDB registry table %s", ddb.Table)
		store, err := registry.NewDynamoDBStore(ctx, awsutil.Settings{Region: ddb.Region, Endpoint: ddb.Endpoint}, ddb.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB registry: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported registry type: %s (supported: memory, sqlite, dynamodb)", f.config.Registry.Type)
	}
}

// CreateRunStore creates the run snapshot backend
func (f *ComponentFactory) CreateRunStore(_ context.Context) (interfaces.RunStore, error) {
	switch f.config.Runs.Type {
	case configpkg.StoreTypeMemory:
		return embedded.NewRunStore(), nil
	case configpkg.StoreTypeSQLite:
		db, err := f.database()
		if err != nil {
			return nil, err
		}
		return &sqlite.RunStore{DB: db}, nil
	case configpkg.StoreTypeRedis:
		store, err := distributed.NewRunStore(f.config.Queue.RedisURL, f.config.Runs.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis run store: %w", err)
		}
		f.closers = append(f.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported run store type: %s (supported: memory, sqlite, redis)", f.config.Runs.Type)
	}
}

// CreateStager creates the artifact stager, archiving to S3 when a bucket is configured
func (f *ComponentFactory) CreateStager(ctx context.Context) (*artifact.Stager, error) {
	var opts []artifact.Option
	if s3cfg := f.config.Artifacts.S3; s3cfg.Bucket != "" {
		archive, err := artifact.NewS3Archive(ctx, artifact.S3ArchiveConfig{
			Bucket:   s3cfg.Bucket,
			Region:   s3cfg.Region,
			Prefix:   s3cfg.Prefix,
			Endpoint: s3cfg.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 archive: %w", err)
		}
		opts = append(opts, artifact.WithArchive(archive))
	}

	stager, err := artifact.NewStager(f.config.Artifacts.WorkDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stager: %w", err)
	}
	return stager, nil
}

// CreateExecutor creates the SSH executor. Secrets Manager backs aws-sm:
// auth references only when a region or endpoint is configured.
func (f *ComponentFactory) CreateExecutor(ctx context.Context) (*remote.SSHExecutor, error) {
	var secrets remote.SecretSource
	if sm := f.config.Secrets; sm.Region != "" || sm.Endpoint != "" {
		source, err := remote.NewSecretsManagerSource(ctx, awsutil.Settings{Region: sm.Region, Endpoint: sm.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("failed to create secrets source: %w", err)
		}
		secrets = source
	}

	hostKeys, err := remote.HostKeyCallback(f.config.SSH.KnownHosts, f.config.SSH.Insecure)
	if err != nil {
		return nil, err
	}
	if f.config.SSH.Insecure {
		logger.Warn("SSH host key verification is disabled")
	}

	return remote.NewSSHExecutor(remote.NewAuthResolver(secrets), remote.SSHExecutorConfig{
		HostKeys:         hostKeys,
		ConnectTimeout:   f.config.SSH.ConnectTimeout,
		OperationTimeout: f.config.Deploy.OperationTimeout,
		DefaultUser:      f.config.SSH.DefaultUser,
		DefaultAuthRef:   f.config.SSH.DefaultAuthRef,
	})
}

// CreateVerifier creates the health verifier
func (f *ComponentFactory) CreateVerifier() *health.Verifier {
	return health.NewVerifier(health.Config{
		Interval:    f.config.Health.Interval,
		Timeout:     f.config.Health.Timeout,
		PollTimeout: f.config.Health.PollTimeout,
	})
}

// CreateDiscovery creates the EC2 discovery, or nil when disabled
func (f *ComponentFactory) CreateDiscovery(ctx context.Context) (*registry.EC2Discovery, error) {
	ec2cfg := f.config.Inventory.EC2
	if !ec2cfg.Enabled {
		return nil, nil
	}
	discovery, err := registry.NewEC2Discovery(ctx, awsutil.Settings{Region: ec2cfg.Region, Endpoint: ec2cfg.Endpoint}, registry.EC2DiscoveryConfig{
		TagKey:  ec2cfg.TagKey,
		Group:   ec2cfg.Group,
		User:    f.config.SSH.DefaultUser,
		AuthRef: ec2cfg.AuthRef,
		AppDir:  ec2cfg.AppDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create EC2 discovery: %w", err)
	}
	return discovery, nil
}

// Close releases connections opened by the factory
func (f *ComponentFactory) Close() error {
	var firstErr error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
