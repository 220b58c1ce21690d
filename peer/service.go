package peer

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/middleware"
	"peer-rpc/rpcerr"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Wrapf(rpcerr.ErrConfiguration, "rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Wrapf(rpcerr.ErrConfiguration, "rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, errors.Wrapf(rpcerr.ErrConfiguration, "%s has no exported methods of the form (ctx, *Args, *Reply) error", s.name)
	}
	return s, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的
//
//	func (r *T) Method(ctx context.Context, args *Args, reply *Reply) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
	}
}

// call 通过反射调用方法
func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// Register exposes every suitable method of rcvr as a function handler named
// "Type.Method". A method qualifies when it has the form
//
//	func (r *T) Method(ctx context.Context, args *Args, reply *Reply) error
//
// The request body is converted into *Args through the peer's codec; the
// filled *Reply becomes the result.
func (p *Peer) Register(rcvr any) error {
	s, err := newService(rcvr)
	if err != nil {
		return err
	}
	for name, mt := range s.method {
		p.HandleFunction(s.name+"."+name, p.methodHandler(s, mt))
	}
	return nil
}

func (p *Peer) methodHandler(s *service, mt *methodType) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.RPCMessage) (any, error) {
		argv := reflect.New(mt.ArgType)
		replyv := reflect.New(mt.ReplyType)

		if req.Body != nil {
			// the body arrives in the codec's generic form; re-encode it to
			// fill the concrete argument type
			raw, err := p.opts.Codec.Encode(req.Body)
			if err == nil {
				err = p.opts.Codec.Decode(raw, argv.Interface())
			}
			if err != nil {
				return nil, rpcerr.Internal(errors.Wrapf(rpcerr.ErrProtocol, "%s: bad arguments: %v", req.Method, err))
			}
		}

		if err := s.call(ctx, mt, argv, replyv); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}
