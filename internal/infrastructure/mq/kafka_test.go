package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaProducerSendMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"out_trade_no":"1"}` {
			return errors.New("unexpected payload: " + string(val))
		}
		return nil
	})

	p := NewKafkaProducerWith(mock)
	if err := p.SendMessage("payment_event", "1", `{"out_trade_no":"1"}`); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestKafkaProducerSendMessageError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerWith(mock)
	if err := p.SendMessage("payment_event", "1", "{}"); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("SendMessage() error = %v, want ErrOutOfBrokers", err)
	}
	_ = p.Close()
}
