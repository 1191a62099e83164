// Package jobRegistrar turns the event interests declared by protocol adapters into pending jobs.
package jobRegistrar

import (
	"context"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/eventInterests"
	"github.com/defi-indexer/historic-cache/pkg/eventParser"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type BlockNumberGetter interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
}

type JobRegistrar struct {
	chain    config.Chain
	provider eventInterests.EventInterestProvider
	store    jobStore.JobStore
	client   BlockNumberGetter
	parser   *eventParser.Parser
	metrics  *metrics.MetricsSink
	logger   *zap.Logger

	tokenProbe *TokenProbe
}

func NewJobRegistrar(
	chain config.Chain,
	provider eventInterests.EventInterestProvider,
	store jobStore.JobStore,
	client BlockNumberGetter,
	parser *eventParser.Parser,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *JobRegistrar {
	return &JobRegistrar{
		chain:    chain,
		provider: provider,
		store:    store,
		client:   client,
		parser:   parser,
		metrics:  ms,
		logger:   l,
	}
}

// WithTokenProbe makes registration drop Transfer jobs for addresses that are not ERC-20 tokens.
func (r *JobRegistrar) WithTokenProbe(p *TokenProbe) *JobRegistrar {
	r.tokenProbe = p
	return r
}

// BuildJobs resolves every interest into jobs registered at blockNumber, deduplicated by job key.
// Interests whose event can't be parsed are logged and skipped.
func (r *JobRegistrar) BuildJobs(interests []*eventInterests.EventInterest, blockNumber uint64) []*jobStore.Job {
	seen := make(map[jobStore.JobKey]bool)
	jobs := make([]*jobStore.Job, 0, len(interests))

	add := func(j *jobStore.Job) {
		j.ContractAddress = utils.NormalizeAddress(j.ContractAddress)
		j.Topic0 = utils.NormalizeAddress(j.Topic0)
		if seen[j.Key()] {
			return
		}
		seen[j.Key()] = true
		jobs = append(jobs, j)
	}

	for _, interest := range interests {
		if interest.UserEvent == nil {
			continue
		}
		for _, j := range r.resolveInterest(interest, blockNumber) {
			add(j)
		}
	}
	return jobs
}

func (r *JobRegistrar) resolveInterest(interest *eventInterests.EventInterest, blockNumber uint64) []*jobStore.Job {
	ue := interest.UserEvent
	newJob := func(contractAddress string, topic0 string, userAddressIndex int) *jobStore.Job {
		return &jobStore.Job{
			ContractAddress:  contractAddress,
			Topic0:           topic0,
			UserAddressIndex: userAddressIndex,
			BlockNumber:      blockNumber,
			Status:           jobStore.JobStatus_Pending,
		}
	}

	switch {
	case ue.Erc20Transfer:
		if len(interest.ProtocolTokenAddresses) == 0 {
			return []*jobStore.Job{newJob(interest.ContractAddress, eventParser.Erc20TransferTopic0, eventParser.Erc20TransferUserAddressIndex)}
		}
		jobs := make([]*jobStore.Job, 0, len(interest.ProtocolTokenAddresses))
		for _, token := range interest.ProtocolTokenAddresses {
			jobs = append(jobs, newJob(token, eventParser.Erc20TransferTopic0, eventParser.Erc20TransferUserAddressIndex))
		}
		return jobs

	case ue.EventAbi != "":
		event, err := r.parser.GetEvent(ue.EventAbi)
		if err != nil {
			r.logger.Sugar().Errorw("Failed to parse event abi, skipping",
				zap.Uint64("chainId", uint64(r.chain)),
				zap.String("contractAddress", interest.ContractAddress),
				zap.String("eventAbi", ue.EventAbi),
				zap.Error(err),
			)
			return nil
		}
		index := eventParser.GetUserAddressIndex(event, ue.UserAddressArgument)
		// the job is still registered so the key is recorded; its logs fail to parse and are skipped
		if index == eventParser.UserAddressIndex_NotFound {
			r.logger.Sugar().Warnw("User address argument not found in event",
				zap.Uint64("chainId", uint64(r.chain)),
				zap.String("contractAddress", interest.ContractAddress),
				zap.String("event", event.Sig),
				zap.String("userAddressArgument", ue.UserAddressArgument),
			)
		}
		eventAbi := ue.EventAbi
		j := newJob(interest.ContractAddress, event.ID.Hex(), index)
		j.EventAbi = &eventAbi
		if len(ue.AdditionalMetadataArguments) > 0 {
			j.AdditionalMetadataArguments = jobStore.AdditionalMetadataArguments(ue.AdditionalMetadataArguments)
		}
		if ue.TransformUserAddressType != "" {
			transform := ue.TransformUserAddressType
			j.TransformUserAddressType = &transform
		}
		return []*jobStore.Job{j}

	case ue.Topic0 != "" && ue.UserAddressIndex != nil:
		return []*jobStore.Job{newJob(interest.ContractAddress, ue.Topic0, *ue.UserAddressIndex)}
	}
	return nil
}

// RegisterNewJobs inserts a pending job for every declared interest that is not in the store yet.
// New jobs are registered at the current chain tip, which bounds their backfill.
func (r *JobRegistrar) RegisterNewJobs(ctx context.Context) (int64, error) {
	interests, err := r.provider.DiscoverEventInterests(ctx, r.chain)
	if err != nil {
		return 0, errors.Wrap(err, "failed to discover event interests")
	}

	existing, err := r.store.GetJobKeys()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get existing job keys")
	}
	existingKeys := make(map[jobStore.JobKey]bool, len(existing))
	for _, k := range existing {
		existingKeys[k] = true
	}

	blockNumber, err := r.client.GetLatestBlock(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block")
	}

	newJobs := utils.Filter(r.BuildJobs(interests, blockNumber), func(j *jobStore.Job) bool {
		return !existingKeys[j.Key()]
	})
	if r.tokenProbe != nil {
		newJobs, err = r.filterTransferJobs(ctx, newJobs)
		if err != nil {
			return 0, errors.Wrap(err, "failed to check token addresses")
		}
	}
	if len(newJobs) == 0 {
		r.logger.Sugar().Infow("No new jobs to register", zap.Uint64("chainId", uint64(r.chain)))
		return 0, nil
	}

	inserted, err := r.store.InsertJobs(newJobs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert jobs")
	}
	r.metrics.Incr(metricsTypes.Metric_Incr_JobsRegistered, []metricsTypes.MetricsLabel{
		{Name: "chain", Value: r.chain.Id()},
	}, float64(inserted))
	r.logger.Sugar().Infow("Registered new jobs",
		zap.Uint64("chainId", uint64(r.chain)),
		zap.Uint64("blockNumber", blockNumber),
		zap.Int("candidates", len(newJobs)),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

func (r *JobRegistrar) filterTransferJobs(ctx context.Context, jobs []*jobStore.Job) ([]*jobStore.Job, error) {
	candidates := make([]string, 0)
	for _, j := range jobs {
		if j.EventAbi == nil && j.Topic0 == eventParser.Erc20TransferTopic0 {
			candidates = append(candidates, j.ContractAddress)
		}
	}
	if len(candidates) == 0 {
		return jobs, nil
	}

	found, err := r.tokenProbe.FilterErc20Tokens(ctx, candidates)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]bool, len(found))
	for _, t := range found {
		tokens[t] = true
	}
	return utils.Filter(jobs, func(j *jobStore.Job) bool {
		if j.EventAbi == nil && j.Topic0 == eventParser.Erc20TransferTopic0 {
			return tokens[j.ContractAddress]
		}
		return true
	}), nil
}
