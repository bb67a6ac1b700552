// internal/service/eligibility/infrastructure/rule/cel_validator.go
package rule

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// CELAdapter 是 domain.ConditionValidator 的实现，用 cel-go 编译和执行资格条件。
// 这是一个适配器：把第三方表达式引擎的 API 适配到我们自己的领域接口。
type CELAdapter struct {
	env *cel.Env
}

// NewCELAdapter 创建适配器并声明 domain.Facts 中的全部变量。
func NewCELAdapter() (*CELAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("country", cel.StringType),
		cel.Variable("platform", cel.StringType),
		cel.Variable("plan", cel.StringType),
		cel.Variable("tenureDays", cel.IntType),
		cel.Variable("lapsedDays", cel.IntType),
		cel.Variable("newCustomer", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build cel environment")
	}
	return &CELAdapter{env: env}, nil
}

func (a *CELAdapter) compile(condition string) (*cel.Ast, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, fmt.Errorf("%w: empty condition", domain.ErrInvalidFilter)
	}
	ast, iss := a.env.Compile(condition)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFilter, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: condition %q evaluates to %s, want bool", domain.ErrInvalidFilter, condition, ast.OutputType())
	}
	return ast, nil
}

// Validate 实现了 domain.ConditionValidator 接口。
func (a *CELAdapter) Validate(condition string) error {
	_, err := a.compile(condition)
	return err
}

// Evaluate 对一组用户属性求值条件。
func (a *CELAdapter) Evaluate(condition string, facts domain.Facts) (bool, error) {
	// 1. 编译并做类型检查，条件本身可能存在语法错误。
	ast, err := a.compile(condition)
	if err != nil {
		return false, err
	}

	// 2. 生成可执行程序。
	prg, err := a.env.Program(ast)
	if err != nil {
		return false, errors.Wrap(err, "plan cel program")
	}

	// 3. 执行评估。
	out, _, err := prg.Eval(facts.Activation())
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %q", condition)
	}

	// 4. 返回结果。
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("condition %q returned %T", condition, out.Value())
	}
	return b, nil
}
