package issuer

import "context"

// Recorder receives the outcome of every issuer call.
type Recorder interface {
	IssuerCall(op string, err error)
}

type instrumented struct {
	next     Client
	recorder Recorder
}

// Instrument wraps next so each call is reported to recorder.
func Instrument(next Client, recorder Recorder) Client {
	if recorder == nil {
		return next
	}
	return &instrumented{next: next, recorder: recorder}
}

func (c *instrumented) ApplyCard(ctx context.Context, req ApplyCardRequest) (ApplyCardResponse, error) {
	res, err := c.next.ApplyCard(ctx, req)
	c.recorder.IssuerCall("apply_card", err)
	return res, err
}

func (c *instrumented) RechargeCard(ctx context.Context, req BalanceRequest) (Ack, error) {
	res, err := c.next.RechargeCard(ctx, req)
	c.recorder.IssuerCall("recharge_card", err)
	return res, err
}

func (c *instrumented) WithdrawFromCard(ctx context.Context, req BalanceRequest) (Ack, error) {
	res, err := c.next.WithdrawFromCard(ctx, req)
	c.recorder.IssuerCall("withdraw_from_card", err)
	return res, err
}

func (c *instrumented) GetCardDetail(ctx context.Context, cardID string) (CardDetail, error) {
	res, err := c.next.GetCardDetail(ctx, cardID)
	c.recorder.IssuerCall("get_card_detail", err)
	return res, err
}
