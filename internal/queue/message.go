package queue

import (
	"strconv"

	"github.com/IBM/sarama"
)

// RetryCountHeader carries a message's own retry counter, so the worker's
// retry policy survives process restarts with the message itself.
const RetryCountHeader = "x-retry-count"

// RetryCount reads the retry counter from message headers; a missing or
// malformed header counts as zero.
func RetryCount(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h == nil || string(h.Key) != RetryCountHeader {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func retryHeader(count int) sarama.RecordHeader {
	return sarama.RecordHeader{
		Key:   []byte(RetryCountHeader),
		Value: []byte(strconv.Itoa(count)),
	}
}
