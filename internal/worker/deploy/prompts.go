package deploy

// planPrompt asks the model for a full deployment plan. The command
// rules mirror the command policy: the model must not emit syntax the
// policy rejects, so the constraints live here rather than in post-hoc
// validation.
const planPrompt = `你是一个运维专家。分析以下项目，生成最优部署方案。

## 项目信息
README:
%s

文件列表:
%s

## 关键配置文件内容（非常重要！）
%s

## 本机环境
%s

## 任务
请一步步思考，分析项目并生成部署计划：
1. 分析项目类型
2. 从 Dockerfile/docker-compose.yml 中提取端口、环境变量等关键配置
3. 检查本机环境是否满足运行条件
4. 确定部署策略
5. 生成部署步骤

## 项目类型识别规则（优先级从高到低，严格遵守）
1. docker-compose.yml 存在 -> "docker"
2. Dockerfile 存在 -> "docker"
3. package.json 存在 -> "nodejs"
4. requirements.txt/pyproject.toml 存在 -> "python"
5. go.mod 存在 -> "go"
6. Cargo.toml 存在 -> "rust"
7. 纯静态页面（只有 html/css/js）-> "static"
8. 其他 -> "unknown"
有 Docker 配置文件就优先使用 Docker 部署，即使项目是 Python/Node.js 等语言。

## 环境变量规则
从 Dockerfile 的 ENV、docker-compose.yml 的 environment、.env.example 中提取必需变量。
缺少 .env 时在部署步骤中创建：
- 密钥类变量用 echo SECRET_KEY=$(openssl rand -hex 32) > .env（不要用 Python）
- 其他变量用 echo VAR=value >> .env

## 命令生成规则（违反会被安全系统拦截）
- 禁止分号、&&、||、后台 &、反引号
- 每行一个独立命令
- 管道只允许配合文本处理工具
- 端口映射必须从 Dockerfile 的 EXPOSE 或 docker-compose.yml 中读取，不要使用默认端口
- 如果有 docker-compose.yml，优先使用 docker compose up -d
- 如果 Docker daemon 未运行，第一步启动它，随后加一步 docker info 确认就绪
- 不要包含 git clone，仓库已经克隆好了
- 所有命令都在项目目录中执行

返回 JSON（不要包含 markdown 代码块标记）:
{
  "thinking": ["每一步推理，一条一句"],
  "project_type": "docker|nodejs|python|go|rust|static|unknown",
  "required_env_vars": ["SECRET_KEY"],
  "exposed_ports": [5000],
  "env_check": {"satisfied": true, "missing": [], "warnings": []},
  "steps": [
    {"description": "构建镜像", "command": "docker build -t myapp .", "risk_level": "safe"},
    {"description": "运行容器", "command": "docker run -d --name myapp -p 5000:5000 --env-file .env myapp", "risk_level": "safe"}
  ],
  "notes": "备注"
}`

// diagnosePrompt asks for a one-shot repair of a failed command.
const diagnosePrompt = `命令执行失败。你是一个智能运维专家，需要立即分析问题并给出解决方案。

## 失败命令
%s

## 错误信息
%s

## 项目上下文
项目类型: %s
项目目录: %s
已知文件: %s

## 已收集的信息
%s

## 重要：一次性解决问题，不要进行不必要的探索

常见问题的标准处理方式：
- 环境变量缺失：密钥类用 openssl rand -hex 32 生成并写入 .env，密码类用 .env.example 默认值或 admin123，配置类查 .env.example/README 或询问用户，action 选 "fix"
- 端口被占用：不要再次诊断，直接修改命令使用新端口（原端口加一）
- 容器名称冲突：先 docker rm -f 旧容器，再重新运行
- 镜像不存在：尝试 docker build 构建本地镜像
- 配置文件缺失：有 .env.example 就复制，否则按需创建
- 容器日志里的错误比命令本身的错误信息更重要

返回 JSON（不要包含 markdown 代码块）:
{
  "thinking": ["观察……", "分析……", "决策……"],
  "action": "fix|ask_user|edit_file|give_up",
  "commands": ["修复命令，按顺序执行"],
  "new_command": "如需替换原命令，给出完整新命令",
  "ask_user": {"question": "问题", "options": ["选项1", "选项2"], "context": "上下文"},
  "edit_file": {"path": "相对项目目录的路径", "content": "完整文件内容", "reason": "原因"},
  "cause": "问题原因",
  "suggestion": "give_up 时给用户的建议"
}

action 说明：
- fix: 执行 commands 修复后重试原命令，或用 new_command 替换原命令
- ask_user: 需要用户选择
- edit_file: 编辑配置文件（会请求用户确认）
- give_up: 无法自动解决`
