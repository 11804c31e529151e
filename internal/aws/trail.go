package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"

	"github.com/no-wing/no-wing/internal/core"
)

// TrailClient reads recent management events from CloudTrail for
// cross-verification against the local audit log.
type TrailClient struct {
	factory *ClientFactory
	creds   SessionCredentials
}

// NewTrailClient creates a CloudTrail event reader bound to a credential
// set.
func NewTrailClient(factory *ClientFactory, creds SessionCredentials) *TrailClient {
	return &TrailClient{factory: factory, creds: creds}
}

// ListRecentEvents returns management events in [start, end), oldest
// first. Pagination is capped to keep verification bounded.
func (c *TrailClient) ListRecentEvents(ctx context.Context, start, end time.Time) ([]core.ExternalEvent, error) {
	c.factory.Wait("cloudtrail")

	client := c.factory.CloudTrailClient(c.creds)
	var events []core.ExternalEvent
	var nextToken *string

	for pages := 0; pages < 10; pages++ {
		out, err := client.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
			StartTime: awssdk.Time(start),
			EndTime:   awssdk.Time(end),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("LookupEvents: %w", err)
		}

		for _, e := range out.Events {
			events = append(events, core.ExternalEvent{
				EventID:   awssdk.ToString(e.EventId),
				EventName: awssdk.ToString(e.EventName),
				EventTime: awssdk.ToTime(e.EventTime),
				Username:  awssdk.ToString(e.Username),
			})
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
		c.factory.Wait("cloudtrail")
	}

	return events, nil
}
