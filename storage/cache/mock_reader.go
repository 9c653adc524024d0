// Copyright 2024 The Slate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/merkle/compact"
)

// MockNodeReader is a hand-written gomock mock of NodeReader, in the
// shape `mockgen` would generate.
type MockNodeReader struct {
	ctrl     *gomock.Controller
	recorder *MockNodeReaderRecorder
}

// MockNodeReaderRecorder records expected calls on a MockNodeReader.
type MockNodeReaderRecorder struct {
	mock *MockNodeReader
}

// NewMockNodeReader returns a new mock controlled by ctrl.
func NewMockNodeReader(ctrl *gomock.Controller) *MockNodeReader {
	m := &MockNodeReader{ctrl: ctrl}
	m.recorder = &MockNodeReaderRecorder{mock: m}
	return m
}

// EXPECT returns the recorder used to set up expectations.
func (m *MockNodeReader) EXPECT() *MockNodeReaderRecorder {
	return m.recorder
}

// GetNode implements NodeReader.
func (m *MockNodeReader) GetNode(ctx context.Context, id compact.NodeID) (merkle.Hash, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetNode", ctx, id)
	h, _ := ret[0].(merkle.Hash)
	err, _ := ret[1].(error)
	return h, err
}

// GetNode records an expectation that GetNode will be called.
func (mr *MockNodeReaderRecorder) GetNode(ctx, id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetNode", reflect.TypeOf((*MockNodeReader)(nil).GetNode), ctx, id)
}
